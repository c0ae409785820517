// Package visit moves a patient's visit through check-in, triage, the doctor
// and billing, opening a queue ticket at each stage.
package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/domain/sequence"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/tenant"
	"github.com/hms/hms/pkg/pagination"
)

type Service struct {
	repo    Repository
	queue   *queue.Service
	numbers *sequence.Allocator
	tx      db.TxRunner
	loc     *time.Location
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, q *queue.Service, numbers *sequence.Allocator, tx db.TxRunner, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:    repo,
		queue:   q,
		numbers: numbers,
		tx:      tx,
		loc:     loc,
		logger:  logger.With().Str("component", "visit").Logger(),
		now:     time.Now,
	}
}

// notice is a queue event held back until the transaction commits.
type notice struct {
	typ  string
	item *queue.Item
}

func (s *Service) flush(ctx context.Context, notices []notice) {
	for _, n := range notices {
		s.queue.Notify(ctx, n.typ, n.item)
	}
}

func (s *Service) Create(ctx context.Context, rc tenant.RequestContext, req CreateRequest) (*Result, error) {
	ref, err := ParsePatientRef(req.PatientIdentifier)
	if err != nil {
		return nil, err
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, apperr.Validation("invalid priority: %s", req.Priority)
	}

	stage, status, priority := queue.StageReception, StatusCreated, queue.PriorityStandard
	if req.SkipTriage {
		stage, status, priority = queue.StageDoctor, StatusWithDoctor, queue.PriorityUrgent
	}
	if req.Priority != "" {
		priority = req.Priority
	}

	tid := rc.TenantID()
	var res *Result
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		patient, err := s.findPatient(ctx, tid, ref)
		if err != nil {
			return err
		}
		doctorID := s.bookable(ctx, tid, req.DoctorID)

		alloc, err := s.numbers.Next(ctx, rc.Org)
		if err != nil {
			return apperr.Internal(err, "allocate visit number failed")
		}

		v := &Visit{
			TenantID:    tid,
			PatientID:   patient.ID,
			VisitNumber: alloc.VisitNumber,
			Status:      status,
			DoctorID:    doctorID,
		}
		if err := s.repo.Create(ctx, v); err != nil {
			return apperr.Internal(err, "create visit failed")
		}

		item := &queue.Item{
			TenantID:    tid,
			VisitID:     v.ID,
			Stage:       stage,
			Priority:    priority,
			TokenNumber: alloc.TokenNumber,
		}
		if stage == queue.StageDoctor {
			item.AssignedDoctorID = doctorID
		}
		if err := s.queue.Enqueue(ctx, item); err != nil {
			return err
		}
		res = &Result{Visit: v, QueueItem: item}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tenant_id", tid.String()).
		Str("visit_number", res.Visit.VisitNumber).
		Str("token", res.QueueItem.TokenNumber).
		Bool("skip_triage", req.SkipTriage).
		Msg("visit created")
	s.flush(ctx, []notice{{events.TypeEnqueued, res.QueueItem}})
	return res, nil
}

// SkipTriage sends a created or triaged visit straight to the doctor.
func (s *Service) SkipTriage(ctx context.Context, rc tenant.RequestContext, id uuid.UUID, req SkipTriageRequest) (*Result, error) {
	priority := queue.PriorityUrgent
	if req.Priority != "" {
		if !req.Priority.Valid() {
			return nil, apperr.Validation("invalid priority: %s", req.Priority)
		}
		priority = req.Priority
	}

	tid := rc.TenantID()
	var (
		res     *Result
		notices []notice
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, err := s.load(ctx, tid, id, true)
		if err != nil {
			return err
		}
		switch v.Status {
		case StatusCreated, StatusTriage, StatusWithDoctor:
		default:
			return invalidTransition("cannot skip triage for a visit that is %s", v.Status)
		}

		doctorID := s.bookable(ctx, tid, req.DoctorID)
		if v, err = s.updateStatus(ctx, tid, id, StatusWithDoctor, doctorID); err != nil {
			return err
		}

		triage, err := s.queue.ActiveAt(ctx, tid, id, queue.StageTriage)
		if err != nil {
			return err
		}
		if triage != nil {
			skipped, err := s.queue.Transition(ctx, tid, triage.ID, queue.ActionSkip)
			if err != nil {
				return err
			}
			notices = append(notices, notice{events.TypeSkipped, skipped})
		}

		existing, err := s.queue.ActiveAt(ctx, tid, id, queue.StageDoctor)
		if err != nil {
			return err
		}
		var item *queue.Item
		if existing != nil {
			if item, err = s.queue.Retarget(ctx, tid, existing.ID, priority, doctorID); err != nil {
				return err
			}
			notices = append(notices, notice{events.TypeUpdated, item})
		} else {
			if item, err = s.open(ctx, rc, id, queue.StageDoctor, priority, doctorID); err != nil {
				return err
			}
			notices = append(notices, notice{events.TypeEnqueued, item})
		}
		res = &Result{Visit: v, QueueItem: item}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, notices)
	return res, nil
}

// Advance moves a visit to triage, the doctor or billing and opens a ticket
// there. A visit that already holds an active ticket at that stage keeps it.
func (s *Service) Advance(ctx context.Context, rc tenant.RequestContext, id uuid.UUID, req AdvanceRequest) (*Result, error) {
	target, ok := StatusForStage(req.ToStage)
	if !ok {
		return nil, apperr.Validation("toStage must be one of triage, doctor, billing")
	}

	tid := rc.TenantID()
	var (
		res     *Result
		notices []notice
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, err := s.load(ctx, tid, id, true)
		if err != nil {
			return err
		}
		if v.Status == StatusClosed {
			return invalidTransition("visit %s is closed", v.VisitNumber)
		}

		var doctorID *uuid.UUID
		if req.ToStage == queue.StageDoctor {
			doctorID = s.bookable(ctx, tid, req.DoctorID)
		}
		if v, err = s.updateStatus(ctx, tid, id, target, doctorID); err != nil {
			return err
		}

		item, err := s.queue.ActiveAt(ctx, tid, id, req.ToStage)
		if err != nil {
			return err
		}
		if item == nil {
			if item, err = s.open(ctx, rc, id, req.ToStage, queue.PriorityStandard, doctorID); err != nil {
				return err
			}
			notices = append(notices, notice{events.TypeEnqueued, item})
		}
		res = &Result{Visit: v, QueueItem: item}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, notices)
	return res, nil
}

// Close finishes a visit awaiting billing. Its active billing ticket is
// served on the way out.
func (s *Service) Close(ctx context.Context, rc tenant.RequestContext, id uuid.UUID) (*Result, error) {
	tid := rc.TenantID()
	var (
		res     *Result
		notices []notice
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, err := s.load(ctx, tid, id, true)
		if err != nil {
			return err
		}
		if v.Status != StatusAwaitingBilling {
			return invalidTransition("cannot close a visit that is %s", v.Status)
		}

		item, err := s.queue.ActiveAt(ctx, tid, id, queue.StageBilling)
		if err != nil {
			return err
		}
		if item != nil && item.Status == queue.StatusWaiting {
			if item, err = s.queue.Transition(ctx, tid, item.ID, queue.ActionCall); err != nil {
				return err
			}
			notices = append(notices, notice{events.TypeCalled, item})
		}
		if item != nil {
			if item, err = s.queue.Transition(ctx, tid, item.ID, queue.ActionServe); err != nil {
				return err
			}
			notices = append(notices, notice{events.TypeServed, item})
		}

		if v, err = s.updateStatus(ctx, tid, id, StatusClosed, nil); err != nil {
			return err
		}
		res = &Result{Visit: v, QueueItem: item}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, notices)
	return res, nil
}

func (s *Service) Get(ctx context.Context, rc tenant.RequestContext, id uuid.UUID) (*Detail, error) {
	v, err := s.load(ctx, rc.TenantID(), id, false)
	if err != nil {
		return nil, err
	}
	items, err := s.queue.ForVisit(ctx, rc.TenantID(), id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*queue.Item{}
	}
	return &Detail{Visit: v, QueueItems: items}, nil
}

// ListToday pages through the visits created on the current facility day.
func (s *Service) ListToday(ctx context.Context, rc tenant.RequestContext, status Status, p pagination.Params) ([]*Visit, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Validation("invalid status: %s", status)
	}
	now := s.now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	f := ListFilter{Status: status, From: from, To: from.AddDate(0, 0, 1)}

	visits, total, err := s.repo.List(ctx, rc.TenantID(), f, p)
	if err != nil {
		return nil, 0, apperr.Internal(err, "list visits failed")
	}
	if visits == nil {
		visits = []*Visit{}
	}
	return visits, total, nil
}

func (s *Service) AvailableDoctors(ctx context.Context, rc tenant.RequestContext) ([]*Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx, rc.TenantID())
	if err != nil {
		return nil, apperr.Internal(err, "list doctors failed")
	}
	if doctors == nil {
		doctors = []*Doctor{}
	}
	return doctors, nil
}

func (s *Service) load(ctx context.Context, tenantID, id uuid.UUID, lock bool) (*Visit, error) {
	get := s.repo.Get
	if lock {
		get = s.repo.Lock
	}
	v, err := get(ctx, tenantID, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("visit not found").Wrap(err)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load visit failed")
	}
	return v, nil
}

func (s *Service) updateStatus(ctx context.Context, tenantID, id uuid.UUID, status Status, doctorID *uuid.UUID) (*Visit, error) {
	v, err := s.repo.UpdateStatus(ctx, tenantID, id, status, doctorID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("visit not found").Wrap(err)
	}
	if err != nil {
		return nil, apperr.Internal(err, "update visit failed")
	}
	return v, nil
}

func (s *Service) findPatient(ctx context.Context, tenantID uuid.UUID, ref PatientRef) (*Patient, error) {
	var (
		p   *Patient
		err error
	)
	if ref.ID != nil {
		p, err = s.repo.FindPatient(ctx, tenantID, *ref.ID)
	} else {
		p, err = s.repo.FindPatientBySuffix(ctx, tenantID, ref.Suffix)
	}
	if errors.Is(err, ErrPatientNotFound) {
		return nil, apperr.NotFound("patient not found").Wrap(err)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load patient failed")
	}
	return p, nil
}

// bookable returns id when it names an active doctor of the tenant and nil
// otherwise. An unusable doctor is dropped rather than failing the request.
func (s *Service) bookable(ctx context.Context, tenantID uuid.UUID, id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	d, err := s.repo.GetDoctor(ctx, tenantID, *id)
	if err != nil && !errors.Is(err, ErrDoctorNotFound) {
		s.logger.Warn().Err(err).Str("doctor_id", id.String()).Msg("doctor lookup failed")
		return nil
	}
	if !d.Bookable() {
		s.logger.Debug().Str("doctor_id", id.String()).Msg("ignoring doctor assignment")
		return nil
	}
	return &d.ID
}

// open mints a token and creates a waiting ticket at stage.
func (s *Service) open(ctx context.Context, rc tenant.RequestContext, visitID uuid.UUID, stage queue.Stage, priority queue.Priority, doctorID *uuid.UUID) (*queue.Item, error) {
	token, err := s.numbers.NextToken(ctx, rc.Org)
	if err != nil {
		return nil, apperr.Internal(err, "allocate token failed")
	}
	item := &queue.Item{
		TenantID:    rc.TenantID(),
		VisitID:     visitID,
		Stage:       stage,
		Priority:    priority,
		TokenNumber: token,
	}
	if stage == queue.StageDoctor {
		item.AssignedDoctorID = doctorID
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func invalidTransition(format string, args ...any) error {
	return apperr.Validation(format, args...).WithCode(apperr.CodeInvalidTransition)
}
