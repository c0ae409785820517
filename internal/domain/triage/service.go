// Package triage records the observations taken before a patient sees the
// doctor. A triage priority re-ranks the visit's waiting tickets.
package triage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/domain/visit"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/tenant"
)

// Visits is the part of the visit store triage needs.
type Visits interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*visit.Visit, error)
	Lock(ctx context.Context, tenantID, id uuid.UUID) (*visit.Visit, error)
}

type Service struct {
	repo   Repository
	visits Visits
	queue  *queue.Service
	tx     db.TxRunner
	logger zerolog.Logger
}

func NewService(repo Repository, visits Visits, q *queue.Service, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		visits: visits,
		queue:  q,
		tx:     tx,
		logger: logger.With().Str("component", "triage").Logger(),
	}
}

func visitErr(err error) error {
	if errors.Is(err, visit.ErrNotFound) {
		return apperr.NotFound("visit not found").Wrap(err)
	}
	return apperr.Internal(err, "load visit failed")
}

// Get returns the visit's triage record, or nil when none was taken.
func (s *Service) Get(ctx context.Context, rc tenant.RequestContext, visitID uuid.UUID) (*Record, error) {
	if _, err := s.visits.Get(ctx, rc.TenantID(), visitID); err != nil {
		return nil, visitErr(err)
	}
	rec, err := s.repo.Get(ctx, rc.TenantID(), visitID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "load triage record failed")
	}
	return rec, nil
}

// Upsert merges req into the visit's triage record.
func (s *Service) Upsert(ctx context.Context, rc tenant.RequestContext, visitID uuid.UUID, req UpsertRequest) (*Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tid := rc.TenantID()
	var (
		rec     *Record
		changed []*queue.Item
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, err := s.visits.Lock(ctx, tid, visitID)
		if err != nil {
			return visitErr(err)
		}
		if v.Status == visit.StatusClosed {
			return apperr.Validation("visit %s is closed", v.VisitNumber).WithCode(apperr.CodeInvalidTransition)
		}

		rec, err = s.repo.Get(ctx, tid, visitID)
		if errors.Is(err, ErrNotFound) {
			rec, err = &Record{TenantID: tid, VisitID: visitID}, nil
		}
		if err != nil {
			return apperr.Internal(err, "load triage record failed")
		}
		rec.apply(req)
		// A partial update can pair a new reading with a stored one.
		if err := rec.Vitals.Validate(); err != nil {
			return err
		}
		if rc.UserID != "" {
			by := rc.UserID
			rec.RecordedBy = &by
		}
		if err := s.repo.Upsert(ctx, rec); err != nil {
			return apperr.Internal(err, "save triage record failed")
		}

		if req.Priority != nil {
			if changed, err = s.queue.Reprioritize(ctx, tid, visitID, *req.Priority); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		s.logger.Info().
			Str("tenant_id", tid.String()).
			Str("visit_id", visitID.String()).
			Str("priority", string(*req.Priority)).
			Int("tickets", len(changed)).
			Msg("triage priority applied")
	}
	s.queue.Notify(ctx, events.TypeUpdated, changed...)
	return rec, nil
}
