// Package queue runs the stage-scoped, priority-ordered waiting lines of a
// visit and the atomic call-next used by staff.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/internal/platform/tenant"
)

type Service struct {
	repo   Repository
	tx     db.TxRunner
	pub    events.Publisher
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:   repo,
		tx:     tx,
		pub:    pub,
		logger: logger.With().Str("component", "queue").Logger(),
		tracer: telemetry.Tracer("github.com/hms/hms/internal/domain/queue"),
		now:    time.Now,
	}
}

func parseStage(stage Stage) error {
	if stage == "" {
		return apperr.Validation("stage is required")
	}
	if !stage.Valid() {
		return apperr.Validation("invalid stage: %s", stage)
	}
	return nil
}

// doctorFilter only applies to the doctor stage.
func doctorFilter(stage Stage, doctorID *uuid.UUID) ListFilter {
	f := ListFilter{Stage: stage}
	if stage == StageDoctor {
		f.DoctorID = doctorID
	}
	return f
}

// List returns the waiting and called items of a stage in service order.
func (s *Service) List(ctx context.Context, rc tenant.RequestContext, stage Stage, doctorID *uuid.UUID) ([]*Item, error) {
	if err := parseStage(stage); err != nil {
		return nil, err
	}
	items, err := s.repo.ListActive(ctx, rc.TenantID(), doctorFilter(stage, doctorID))
	if err != nil {
		return nil, apperr.Internal(err, "list queue failed")
	}
	if items == nil {
		items = []*Item{}
	}
	return items, nil
}

// Board is the display projection of List.
func (s *Service) Board(ctx context.Context, rc tenant.RequestContext, stage Stage) ([]BoardEntry, error) {
	items, err := s.List(ctx, rc, stage, nil)
	if err != nil {
		return nil, err
	}
	return toBoard(items, s.now()), nil
}

// CallNext claims the best waiting item of a stage. It returns nil, nil when
// there is nothing to call, including when a concurrent caller won the item.
func (s *Service) CallNext(ctx context.Context, rc tenant.RequestContext, stage Stage, doctorID *uuid.UUID) (*Item, error) {
	if err := parseStage(stage); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "queue.CallNext", trace.WithAttributes(
		attribute.String("tenant.id", rc.TenantID().String()),
		attribute.String("queue.stage", string(stage)),
	))
	defer span.End()

	var item *Item
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.repo.ClaimNext(ctx, rc.TenantID(), doctorFilter(stage, doctorID))
		return err
	})
	if errors.Is(err, ErrNoneWaiting) {
		span.SetAttributes(attribute.Bool("queue.claimed", false))
		s.logger.Debug().Str("tenant_id", rc.TenantID().String()).Str("stage", string(stage)).Msg("call-next found nothing to call")
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Internal(err, "call next failed")
	}

	span.SetAttributes(attribute.Bool("queue.claimed", true), attribute.String("queue.token", item.TokenNumber))
	s.logger.Debug().
		Str("tenant_id", rc.TenantID().String()).
		Str("stage", string(stage)).
		Str("token", item.TokenNumber).
		Str("user_id", rc.UserID).
		Msg("queue item claimed")
	s.Notify(ctx, events.TypeCalled, item)
	return item, nil
}

// Call claims a specific item chosen by the operator, outside service order.
func (s *Service) Call(ctx context.Context, rc tenant.RequestContext, id uuid.UUID) (*Item, error) {
	return s.apply(ctx, rc, id, ActionCall, events.TypeCalled)
}

func (s *Service) Serve(ctx context.Context, rc tenant.RequestContext, id uuid.UUID) (*Item, error) {
	return s.apply(ctx, rc, id, ActionServe, events.TypeServed)
}

func (s *Service) Skip(ctx context.Context, rc tenant.RequestContext, id uuid.UUID) (*Item, error) {
	return s.apply(ctx, rc, id, ActionSkip, events.TypeSkipped)
}

func (s *Service) apply(ctx context.Context, rc tenant.RequestContext, id uuid.UUID, action Action, evType string) (*Item, error) {
	var item *Item
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.Transition(ctx, rc.TenantID(), id, action)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, evType, item)
	return item, nil
}

// Transition applies action to an item inside the caller's unit of work and
// maps a lost conditional update to NotFound or an invalid transition.
func (s *Service) Transition(ctx context.Context, tenantID, id uuid.UUID, action Action) (*Item, error) {
	t, ok := transitions[action]
	if !ok {
		return nil, apperr.Validation("unknown action: %s", action)
	}

	item, err := s.repo.Transition(ctx, tenantID, id, allowedFrom(action), t.to)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, ErrStateChanged) {
		return nil, apperr.Internal(err, "update queue item failed")
	}

	current, gerr := s.repo.Get(ctx, tenantID, id)
	if errors.Is(gerr, ErrNotFound) {
		return nil, apperr.NotFound("queue item not found")
	}
	if gerr != nil {
		return nil, apperr.Internal(gerr, "load queue item failed")
	}
	return nil, apperr.Validation("cannot %s a queue item that is %s", action, current.Status).
		WithCode(apperr.CodeInvalidTransition).
		Wrap(ErrInvalidTransition)
}

// Enqueue creates a waiting item inside the caller's unit of work. Callers
// publish with Notify once their transaction has committed.
func (s *Service) Enqueue(ctx context.Context, item *Item) error {
	if err := parseStage(item.Stage); err != nil {
		return err
	}
	if item.Priority == "" {
		item.Priority = PriorityStandard
	}
	if !item.Priority.Valid() {
		return apperr.Validation("invalid priority: %s", item.Priority)
	}
	item.Status = StatusWaiting
	if err := s.repo.Create(ctx, item); err != nil {
		return apperr.Internal(err, "create queue item failed")
	}
	return nil
}

// ActiveAt returns the visit's waiting or called item at stage, or nil.
func (s *Service) ActiveAt(ctx context.Context, tenantID, visitID uuid.UUID, stage Stage) (*Item, error) {
	item, err := s.repo.FindActive(ctx, tenantID, visitID, stage)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "load queue item failed")
	}
	return item, nil
}

// Retarget changes an active item's priority and, when doctorID is set, its
// assigned doctor.
func (s *Service) Retarget(ctx context.Context, tenantID, id uuid.UUID, priority Priority, doctorID *uuid.UUID) (*Item, error) {
	item, err := s.repo.Retarget(ctx, tenantID, id, priority, doctorID)
	if errors.Is(err, ErrStateChanged) {
		return nil, apperr.Validation("queue item is no longer active").WithCode(apperr.CodeInvalidTransition)
	}
	if err != nil {
		return nil, apperr.Internal(err, "update queue item failed")
	}
	return item, nil
}

// Reprioritize applies a triage priority to the visit's waiting items.
func (s *Service) Reprioritize(ctx context.Context, tenantID, visitID uuid.UUID, priority Priority) ([]*Item, error) {
	items, err := s.repo.Reprioritize(ctx, tenantID, visitID, priority)
	if err != nil {
		return nil, apperr.Internal(err, "reprioritize failed")
	}
	return items, nil
}

// ForVisit returns every item of a visit, oldest first.
func (s *Service) ForVisit(ctx context.Context, tenantID, visitID uuid.UUID) ([]*Item, error) {
	items, err := s.repo.ListByVisit(ctx, tenantID, visitID)
	if err != nil {
		return nil, apperr.Internal(err, "list visit queue items failed")
	}
	return items, nil
}

// Notify publishes board events. Delivery is best effort.
func (s *Service) Notify(ctx context.Context, evType string, items ...*Item) {
	for _, it := range items {
		if it == nil {
			continue
		}
		ev := events.Event{
			Type:        evType,
			TenantID:    it.TenantID,
			Stage:       string(it.Stage),
			ItemID:      it.ID,
			VisitID:     it.VisitID,
			TokenNumber: it.TokenNumber,
			Priority:    string(it.Priority),
			Status:      string(it.Status),
			DoctorID:    it.AssignedDoctorID,
			Timestamp:   s.now().UTC(),
		}
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("topic", ev.Topic()).Str("type", evType).Msg("publish queue event failed")
		}
	}
}
