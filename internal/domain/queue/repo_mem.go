package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateActive is returned by MemRepo.Create for a second active item
// at the same stage of a visit, mirroring the partial unique index.
var ErrDuplicateActive = errors.New("visit already has an active item at this stage")

// MemRepo is an in-process Repository. Every method holds one lock, so its
// conditional updates behave like the row-level ones in Postgres.
type MemRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Item
	now   func() time.Time
	tick  time.Duration
}

func NewMemRepo() *MemRepo {
	return &MemRepo{items: make(map[uuid.UUID]*Item), now: time.Now}
}

// stamp returns strictly increasing times so arrival order is stable.
func (m *MemRepo) stamp() time.Time {
	m.tick += time.Microsecond
	return m.now().Add(m.tick)
}

func clone(it *Item) *Item {
	cp := *it
	return &cp
}

func (m *MemRepo) Create(_ context.Context, it *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.items {
		if x.TenantID == it.TenantID && x.VisitID == it.VisitID && x.Stage == it.Stage && x.Status.Active() {
			return ErrDuplicateActive
		}
	}
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = m.stamp()
	}
	it.UpdatedAt = it.CreatedAt
	m.items[it.ID] = clone(it)
	return nil
}

func (m *MemRepo) Get(_ context.Context, tenantID, id uuid.UUID) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return clone(it), nil
}

func (m *MemRepo) FindActive(_ context.Context, tenantID, visitID uuid.UUID, stage Stage) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.TenantID == tenantID && it.VisitID == visitID && it.Stage == stage && it.Status.Active() {
			return clone(it), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemRepo) match(tenantID uuid.UUID, f ListFilter, keep func(*Item) bool) []*Item {
	var out []*Item
	for _, it := range m.items {
		if it.TenantID == tenantID && it.Stage == f.Stage && it.visibleTo(f.DoctorID) && keep(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return Before(out[i], out[j]) })
	return out
}

func (m *MemRepo) ListActive(_ context.Context, tenantID uuid.UUID, f ListFilter) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Item
	for _, it := range m.match(tenantID, f, func(it *Item) bool { return it.Status.Active() }) {
		out = append(out, clone(it))
	}
	return out, nil
}

func (m *MemRepo) ListByVisit(_ context.Context, tenantID, visitID uuid.UUID) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Item
	for _, it := range m.items {
		if it.TenantID == tenantID && it.VisitID == visitID {
			out = append(out, clone(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemRepo) ClaimNext(_ context.Context, tenantID uuid.UUID, f ListFilter) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiting := m.match(tenantID, f, func(it *Item) bool { return it.Status == StatusWaiting })
	if len(waiting) == 0 {
		return nil, ErrNoneWaiting
	}
	it := waiting[0]
	now := m.stamp()
	it.Status = StatusCalled
	it.CalledAt = &now
	it.UpdatedAt = now
	if f.DoctorID != nil {
		d := *f.DoctorID
		it.AssignedDoctorID = &d
	}
	return clone(it), nil
}

func (m *MemRepo) Transition(_ context.Context, tenantID, id uuid.UUID, from []Status, to Status) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.TenantID != tenantID {
		return nil, ErrStateChanged
	}
	allowed := false
	for _, s := range from {
		if it.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, ErrStateChanged
	}
	now := m.stamp()
	it.Status = to
	it.UpdatedAt = now
	switch to {
	case StatusCalled:
		it.CalledAt = &now
	case StatusServed:
		it.ServedAt = &now
	case StatusSkipped:
		it.SkippedAt = &now
	}
	return clone(it), nil
}

func (m *MemRepo) Retarget(_ context.Context, tenantID, id uuid.UUID, priority Priority, doctorID *uuid.UUID) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.TenantID != tenantID || !it.Status.Active() {
		return nil, ErrStateChanged
	}
	it.Priority = priority
	if doctorID != nil {
		d := *doctorID
		it.AssignedDoctorID = &d
	}
	it.UpdatedAt = m.stamp()
	return clone(it), nil
}

func (m *MemRepo) Reprioritize(_ context.Context, tenantID, visitID uuid.UUID, priority Priority) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Item
	for _, it := range m.items {
		if it.TenantID == tenantID && it.VisitID == visitID && it.Status == StatusWaiting && it.Priority != priority {
			it.Priority = priority
			it.UpdatedAt = m.stamp()
			out = append(out, clone(it))
		}
	}
	return out, nil
}
