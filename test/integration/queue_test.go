package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/domain/visit"
	"github.com/hms/hms/internal/platform/apperr"
)

func TestSequence_ConcurrentNumbersUnique(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	st := newStack()
	org := createOrg(t, ctx, "seq")

	const n = 40
	var (
		mu     sync.Mutex
		visits = make(map[string]bool)
		tokens = make(map[string]bool)
		wg     sync.WaitGroup
	)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := st.alloc.Next(ctx, org)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			defer mu.Unlock()
			visits[a.VisitNumber] = true
			tokens[a.TokenNumber] = true
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("allocate: %v", err)
	}
	if len(visits) != n || len(tokens) != n {
		t.Fatalf("expected %d unique visit and token numbers, got %d and %d", n, len(visits), len(tokens))
	}

	token, err := st.alloc.NextToken(ctx, org)
	if err != nil {
		t.Fatalf("NextToken: %v", err)
	}
	if tokens[token] {
		t.Errorf("token %s was already handed out", token)
	}
}

func TestQueue_CallNextExactlyOnce(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	st := newStack()
	org := createOrg(t, ctx, "race")
	rc := rcFor(org)

	const visits = 8
	for i := 0; i < visits; i++ {
		pid := createPatient(t, ctx, org, "Patient")
		if _, err := st.visits.Create(ctx, rc, visit.CreateRequest{PatientIdentifier: pid.String()}); err != nil {
			t.Fatalf("create visit: %v", err)
		}
	}

	const callers = 16
	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
		wg      sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it, err := st.queue.CallNext(ctx, rc, queue.StageReception, nil)
				if err != nil {
					t.Errorf("call next: %v", err)
					return
				}
				if it == nil {
					return
				}
				mu.Lock()
				claimed[it.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != visits {
		t.Fatalf("expected %d claimed items, got %d", visits, len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("item %s claimed %d times", id, n)
		}
	}

	waiting, err := st.queue.List(ctx, rc, queue.StageReception, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, it := range waiting {
		if it.Status != queue.StatusCalled {
			t.Errorf("expected every item called, %s is %s", it.TokenNumber, it.Status)
		}
	}
}

func TestQueue_PriorityOrder(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	st := newStack()
	org := createOrg(t, ctx, "prio")
	rc := rcFor(org)

	var want []string
	for _, p := range []queue.Priority{queue.PriorityStandard, queue.PriorityEmergency, queue.PriorityUrgent} {
		pid := createPatient(t, ctx, org, "Patient")
		res, err := st.visits.Create(ctx, rc, visit.CreateRequest{PatientIdentifier: pid.String(), Priority: p})
		if err != nil {
			t.Fatalf("create visit: %v", err)
		}
		want = append(want, res.QueueItem.TokenNumber)
	}
	// emergency, urgent, standard
	want = []string{want[1], want[2], want[0]}

	for i, token := range want {
		it, err := st.queue.CallNext(ctx, rc, queue.StageReception, nil)
		if err != nil {
			t.Fatalf("call next: %v", err)
		}
		if it == nil || it.TokenNumber != token {
			t.Fatalf("call %d: expected %s, got %+v", i, token, it)
		}
	}
}

func TestTenantIsolation(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	st := newStack()
	a := createOrg(t, ctx, "north")
	b := createOrg(t, ctx, "south")

	pid := createPatient(t, ctx, a, "Asha Rao")
	doc := createDoctor(t, ctx, a, "Dr. Mehta")
	res, err := st.visits.Create(ctx, rcFor(a), visit.CreateRequest{
		PatientIdentifier: pid.String(),
		SkipTriage:        true,
		DoctorID:          &doc,
	})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	if res.QueueItem.AssignedDoctorID == nil || *res.QueueItem.AssignedDoctorID != doc {
		t.Errorf("expected doctor assignment, got %v", res.QueueItem.AssignedDoctorID)
	}

	if _, err := st.visits.Get(ctx, rcFor(b), res.Visit.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected NotFound reading another tenant's visit, got %v", err)
	}
	if _, err := st.visits.Create(ctx, rcFor(b), visit.CreateRequest{PatientIdentifier: pid.String()}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected NotFound booking another tenant's patient, got %v", err)
	}
	if _, err := st.queue.Serve(ctx, rcFor(b), res.QueueItem.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected NotFound serving another tenant's item, got %v", err)
	}

	items, err := st.queue.List(ctx, rcFor(b), queue.StageDoctor, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected an empty doctor queue for the other tenant, got %d items", len(items))
	}
	if it, err := st.queue.CallNext(ctx, rcFor(b), queue.StageDoctor, nil); err != nil || it != nil {
		t.Errorf("expected nothing to call for the other tenant, got %+v, %v", it, err)
	}

	doctors, err := st.visits.AvailableDoctors(ctx, rcFor(b))
	if err != nil {
		t.Fatalf("available doctors: %v", err)
	}
	if len(doctors) != 0 {
		t.Errorf("expected no doctors for the other tenant, got %d", len(doctors))
	}
}

func TestVisit_Lifecycle(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	st := newStack()
	org := createOrg(t, ctx, "life")
	rc := rcFor(org)

	pid := createPatient(t, ctx, org, "Ravi Kumar")
	res, err := st.visits.Create(ctx, rc, visit.CreateRequest{PatientIdentifier: pid.String()})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	id := res.Visit.ID

	steps := []queue.Stage{queue.StageTriage, queue.StageDoctor, queue.StageBilling}
	for _, stage := range steps {
		out, err := st.visits.Advance(ctx, rc, id, visit.AdvanceRequest{ToStage: stage})
		if err != nil {
			t.Fatalf("advance to %s: %v", stage, err)
		}
		if out.QueueItem.Stage != stage {
			t.Fatalf("expected %s ticket, got %s", stage, out.QueueItem.Stage)
		}
	}

	closed, err := st.visits.Close(ctx, rc, id)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Visit.Status != visit.StatusClosed || closed.Visit.ClosedAt == nil {
		t.Errorf("expected a closed visit with closed_at, got %+v", closed.Visit)
	}

	_, err = st.visits.Advance(ctx, rc, id, visit.AdvanceRequest{ToStage: queue.StageDoctor})
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeInvalidTransition {
		t.Errorf("expected INVALID_TRANSITION advancing a closed visit, got %v", err)
	}

	detail, err := st.visits.Get(ctx, rc, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(detail.QueueItems) != 1+len(steps) {
		t.Errorf("expected %d queue items in history, got %d", 1+len(steps), len(detail.QueueItems))
	}
}
