package sequence

import (
	"context"

	"github.com/google/uuid"
)

// Repository owns the per-tenant, per-day counter row. Both operations are a
// single atomic statement and return the values handed out.
type Repository interface {
	// Next takes one visit sequence and one token sequence.
	Next(ctx context.Context, tenantID uuid.UUID, dateKey string) (visitSeq, tokenSeq int, err error)
	// NextToken takes one token sequence only.
	NextToken(ctx context.Context, tenantID uuid.UUID, dateKey string) (int, error)
}
