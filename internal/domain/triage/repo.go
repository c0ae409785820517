package triage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

var ErrNotFound = errors.New("triage record not found")

type Repository interface {
	Get(ctx context.Context, tenantID, visitID uuid.UUID) (*Record, error)
	// Upsert writes the single record of a visit.
	Upsert(ctx context.Context, rec *Record) error
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const recordCols = `id, tenant_id, visit_id, vitals, symptoms, priority, notes, recorded_by, created_at, updated_at`

func (r *repoPG) Get(ctx context.Context, tenantID, visitID uuid.UUID) (*Record, error) {
	var rec Record
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM triage_records WHERE tenant_id = $1 AND visit_id = $2`,
		tenantID, visitID,
	).Scan(&rec.ID, &rec.TenantID, &rec.VisitID, &rec.Vitals, &rec.Symptoms, &rec.Priority,
		&rec.Notes, &rec.RecordedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get triage record: %w", err)
	}
	return &rec, nil
}

func (r *repoPG) Upsert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO triage_records (id, tenant_id, visit_id, vitals, symptoms, priority, notes, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, visit_id) DO UPDATE SET
			vitals = EXCLUDED.vitals,
			symptoms = EXCLUDED.symptoms,
			priority = EXCLUDED.priority,
			notes = EXCLUDED.notes,
			recorded_by = EXCLUDED.recorded_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		rec.ID, rec.TenantID, rec.VisitID, rec.Vitals, rec.Symptoms, rec.Priority, rec.Notes, rec.RecordedBy,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert triage record: %w", err)
	}
	return nil
}
