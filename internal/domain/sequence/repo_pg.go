package sequence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
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

// The row stores the next value to hand out. A missing row means (1, 1), so
// the insert path stores 2 and returns 1. Concurrent callers serialize on the
// row lock taken by ON CONFLICT DO UPDATE.
func (r *repoPG) Next(ctx context.Context, tenantID uuid.UUID, dateKey string) (int, int, error) {
	var visitSeq, tokenSeq int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_counters (tenant_id, date_key, next_visit_seq, next_token_seq)
		VALUES ($1, $2, 2, 2)
		ON CONFLICT (tenant_id, date_key) DO UPDATE SET
			next_visit_seq = visit_counters.next_visit_seq + 1,
			next_token_seq = visit_counters.next_token_seq + 1,
			updated_at = NOW()
		RETURNING next_visit_seq - 1, next_token_seq - 1`,
		tenantID, dateKey,
	).Scan(&visitSeq, &tokenSeq)
	if err != nil {
		return 0, 0, fmt.Errorf("allocate visit sequence: %w", err)
	}
	return visitSeq, tokenSeq, nil
}

func (r *repoPG) NextToken(ctx context.Context, tenantID uuid.UUID, dateKey string) (int, error) {
	var tokenSeq int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_counters (tenant_id, date_key, next_visit_seq, next_token_seq)
		VALUES ($1, $2, 1, 2)
		ON CONFLICT (tenant_id, date_key) DO UPDATE SET
			next_token_seq = visit_counters.next_token_seq + 1,
			updated_at = NOW()
		RETURNING next_token_seq - 1`,
		tenantID, dateKey,
	).Scan(&tokenSeq)
	if err != nil {
		return 0, fmt.Errorf("allocate token sequence: %w", err)
	}
	return tokenSeq, nil
}
