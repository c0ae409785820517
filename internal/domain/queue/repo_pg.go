package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
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

const itemCols = `id, tenant_id, visit_id, stage, priority, token_number, assigned_doctor_id,
	status, created_at, updated_at, called_at, served_at, skipped_at`

// priorityOrder is the ORDER BY expression shared by listing and claiming.
var priorityOrder = func() string {
	var b strings.Builder
	b.WriteString("CASE priority")
	for _, p := range priorities {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", p, p.Rank())
	}
	fmt.Fprintf(&b, " ELSE %d END, created_at, id", len(priorities))
	return b.String()
}()

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.TenantID, &it.VisitID, &it.Stage, &it.Priority, &it.TokenNumber,
		&it.AssignedDoctorID, &it.Status, &it.CreatedAt, &it.UpdatedAt,
		&it.CalledAt, &it.ServedAt, &it.SkippedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func collect(rows pgx.Rows) ([]*Item, error) {
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, it *Item) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_items (id, tenant_id, visit_id, stage, priority, token_number, assigned_doctor_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		it.ID, it.TenantID, it.VisitID, it.Stage, it.Priority, it.TokenNumber, it.AssignedDoctorID, it.Status,
	).Scan(&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, tenantID, id uuid.UUID) (*Item, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM queue_items WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

func (r *repoPG) FindActive(ctx context.Context, tenantID, visitID uuid.UUID, stage Stage) (*Item, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, `
		SELECT `+itemCols+` FROM queue_items
		WHERE tenant_id = $1 AND visit_id = $2 AND stage = $3 AND status IN ('waiting', 'called')`,
		tenantID, visitID, stage))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

func (r *repoPG) ListActive(ctx context.Context, tenantID uuid.UUID, f ListFilter) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM queue_items
		WHERE tenant_id = $1 AND stage = $2 AND status IN ('waiting', 'called')
			AND ($3::uuid IS NULL OR assigned_doctor_id IS NULL OR assigned_doctor_id = $3)
		ORDER BY `+priorityOrder,
		tenantID, f.Stage, f.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) ListByVisit(ctx context.Context, tenantID, visitID uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM queue_items
		WHERE tenant_id = $1 AND visit_id = $2
		ORDER BY created_at, id`,
		tenantID, visitID)
	if err != nil {
		return nil, fmt.Errorf("list visit queue items: %w", err)
	}
	return collect(rows)
}

// ClaimNext picks a candidate with SKIP LOCKED so concurrent callers each see
// a different row, then updates it only if it is still waiting. Zero rows
// means there was nothing left to call.
func (r *repoPG) ClaimNext(ctx context.Context, tenantID uuid.UUID, f ListFilter) (*Item, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM queue_items
			WHERE tenant_id = $1 AND stage = $2 AND status = 'waiting'
				AND ($3::uuid IS NULL OR assigned_doctor_id IS NULL OR assigned_doctor_id = $3)
			ORDER BY `+priorityOrder+`
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_items q SET
			status = 'called',
			called_at = NOW(),
			updated_at = NOW(),
			assigned_doctor_id = COALESCE($3::uuid, q.assigned_doctor_id)
		FROM next
		WHERE q.id = next.id AND q.tenant_id = $1 AND q.status = 'waiting'
		RETURNING `+prefixed("q", itemCols),
		tenantID, f.Stage, f.DoctorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoneWaiting
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return it, nil
}

func (r *repoPG) Transition(ctx context.Context, tenantID, id uuid.UUID, from []Status, to Status) (*Item, error) {
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_items SET
			status = $3::text,
			called_at = CASE WHEN $3::text = 'called' THEN NOW() ELSE called_at END,
			served_at = CASE WHEN $3::text = 'served' THEN NOW() ELSE served_at END,
			skipped_at = CASE WHEN $3::text = 'skipped' THEN NOW() ELSE skipped_at END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = ANY($4::text[])
		RETURNING `+itemCols,
		tenantID, id, string(to), fromStr))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateChanged
	}
	if err != nil {
		return nil, fmt.Errorf("update queue item status: %w", err)
	}
	return it, nil
}

func (r *repoPG) Retarget(ctx context.Context, tenantID, id uuid.UUID, priority Priority, doctorID *uuid.UUID) (*Item, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_items SET
			priority = $3,
			assigned_doctor_id = COALESCE($4::uuid, assigned_doctor_id),
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status IN ('waiting', 'called')
		RETURNING `+itemCols,
		tenantID, id, priority, doctorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateChanged
	}
	if err != nil {
		return nil, fmt.Errorf("retarget queue item: %w", err)
	}
	return it, nil
}

func (r *repoPG) Reprioritize(ctx context.Context, tenantID, visitID uuid.UUID, priority Priority) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE queue_items SET priority = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND visit_id = $2 AND status = 'waiting' AND priority <> $3
		RETURNING `+itemCols,
		tenantID, visitID, priority)
	if err != nil {
		return nil, fmt.Errorf("reprioritize visit: %w", err)
	}
	return collect(rows)
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
