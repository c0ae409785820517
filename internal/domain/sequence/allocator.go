// Package sequence hands out visit and token numbers that are unique per
// tenant and facility-local day.
package sequence

import (
	"context"
	"time"

	"github.com/hms/hms/internal/platform/tenant"
)

type Allocator struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
}

func NewAllocator(repo Repository, loc *time.Location) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{repo: repo, loc: loc, now: time.Now}
}

// WithClock overrides the time source.
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

// Next allocates a visit number and its first token number.
func (a *Allocator) Next(ctx context.Context, org *tenant.Organization) (*Allocation, error) {
	key := DateKey(a.now(), a.loc)
	visitSeq, tokenSeq, err := a.repo.Next(ctx, org.ID, key)
	if err != nil {
		return nil, err
	}
	code := org.Code()
	return &Allocation{
		DateKey:     key,
		VisitSeq:    visitSeq,
		TokenSeq:    tokenSeq,
		VisitNumber: VisitNumber(code, key, visitSeq),
		TokenNumber: TokenNumber(code, key, tokenSeq),
	}, nil
}

// NextToken allocates a fresh token number for a later stage of a visit.
func (a *Allocator) NextToken(ctx context.Context, org *tenant.Organization) (string, error) {
	key := DateKey(a.now(), a.loc)
	seq, err := a.repo.NextToken(ctx, org.ID, key)
	if err != nil {
		return "", err
	}
	return TokenNumber(org.Code(), key, seq), nil
}
