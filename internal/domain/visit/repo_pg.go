package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/pagination"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const visitCols = `id, tenant_id, patient_id, visit_number, status, doctor_id, created_at, updated_at, closed_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.TenantID, &v.PatientID, &v.VisitNumber, &v.Status, &v.DoctorID,
		&v.CreatedAt, &v.UpdatedAt, &v.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visits (id, tenant_id, patient_id, visit_number, status, doctor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		v.ID, v.TenantID, v.PatientID, v.VisitNumber, v.Status, v.DoctorID,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, tenantID, id uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (r *repoPG) Lock(ctx context.Context, tenantID, id uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
}

func (r *repoPG) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status Status, doctorID *uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx, `
		UPDATE visits SET
			status = $3::text,
			doctor_id = COALESCE($4::uuid, doctor_id),
			closed_at = CASE WHEN $3::text = 'closed' THEN NOW() ELSE closed_at END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+visitCols,
		tenantID, id, string(status), doctorID))
}

func (r *repoPG) List(ctx context.Context, tenantID uuid.UUID, f ListFilter, p pagination.Params) ([]*Visit, int, error) {
	const where = `WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 AND ($4::text = '' OR status = $4::text)`
	args := []any{tenantID, f.From, f.To, string(f.Status)}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visits `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visits `+where+` ORDER BY created_at DESC, id `+p.SQL(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var out []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

const patientCols = `id, tenant_id, full_name, phone, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.TenantID, &p.FullName, &p.Phone, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) FindPatient(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (r *repoPG) FindPatientBySuffix(ctx context.Context, tenantID uuid.UUID, suffix string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE tenant_id = $1 AND right(replace(id::text, '-', ''), length($2::text)) = $2::text
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		tenantID, suffix))
}

const doctorCols = `id, full_name, specialization, role, is_active`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.FullName, &d.Specialization, &d.Role, &d.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) GetDoctor(ctx context.Context, tenantID, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (r *repoPG) ListDoctors(ctx context.Context, tenantID uuid.UUID) ([]*Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+doctorCols+` FROM users
		WHERE tenant_id = $1 AND role = 'doctor' AND is_active
		ORDER BY full_name, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var out []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
