package visit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/pagination"
)

// -- Mock Repository --

type mockRepo struct {
	mu       sync.Mutex
	visits   map[uuid.UUID]*Visit
	patients map[uuid.UUID]*Patient
	doctors  map[uuid.UUID]*Doctor
	tenantOf map[uuid.UUID]uuid.UUID
	clock    time.Time
}

func newMockRepo(now time.Time) *mockRepo {
	return &mockRepo{
		visits:   make(map[uuid.UUID]*Visit),
		patients: make(map[uuid.UUID]*Patient),
		doctors:  make(map[uuid.UUID]*Doctor),
		tenantOf: make(map[uuid.UUID]uuid.UUID),
		clock:    now,
	}
}

func (m *mockRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *mockRepo) addPatient(tenantID uuid.UUID, id uuid.UUID, name string) *Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Patient{ID: id, TenantID: tenantID, FullName: name, CreatedAt: m.tick()}
	m.patients[id] = p
	return p
}

func (m *mockRepo) addDoctor(tenantID uuid.UUID, name, role string, active bool) *Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &Doctor{ID: uuid.New(), FullName: name, Role: role, IsActive: active}
	m.doctors[d.ID] = d
	m.tenantOf[d.ID] = tenantID
	return d
}

func (m *mockRepo) Create(_ context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.visits {
		if x.TenantID == v.TenantID && x.VisitNumber == v.VisitNumber {
			return errDuplicate
		}
	}
	v.ID = uuid.New()
	v.CreatedAt = m.tick()
	v.UpdatedAt = v.CreatedAt
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, tenantID, id uuid.UUID) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok || v.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *mockRepo) Lock(ctx context.Context, tenantID, id uuid.UUID) (*Visit, error) {
	return m.Get(ctx, tenantID, id)
}

func (m *mockRepo) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, status Status, doctorID *uuid.UUID) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok || v.TenantID != tenantID {
		return nil, ErrNotFound
	}
	v.Status = status
	if doctorID != nil {
		d := *doctorID
		v.DoctorID = &d
	}
	v.UpdatedAt = m.tick()
	if status == StatusClosed {
		t := v.UpdatedAt
		v.ClosedAt = &t
	}
	cp := *v
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, tenantID uuid.UUID, f ListFilter, p pagination.Params) ([]*Visit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Visit
	for _, v := range m.visits {
		if v.TenantID != tenantID || v.CreatedAt.Before(f.From) || !v.CreatedAt.Before(f.To) {
			continue
		}
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		cp := *v
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if p.Offset >= total {
		return nil, total, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return all[p.Offset:end], total, nil
}

func (m *mockRepo) FindPatient(_ context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok || p.TenantID != tenantID {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *mockRepo) FindPatientBySuffix(_ context.Context, tenantID uuid.UUID, suffix string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Patient
	for _, p := range m.patients {
		hex := strings.ReplaceAll(p.ID.String(), "-", "")
		if p.TenantID != tenantID || !strings.HasSuffix(hex, suffix) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, ErrPatientNotFound
	}
	return best, nil
}

func (m *mockRepo) GetDoctor(_ context.Context, tenantID, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok || m.tenantOf[id] != tenantID {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}

func (m *mockRepo) ListDoctors(_ context.Context, tenantID uuid.UUID) ([]*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Doctor
	for id, d := range m.doctors {
		if m.tenantOf[id] == tenantID && d.Bookable() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

type counterKey struct {
	tenant uuid.UUID
	date   string
}

// seqRepo counts per tenant and day like the counter upsert.
type seqRepo struct {
	mu    sync.Mutex
	visit map[counterKey]int
	token map[counterKey]int
}

func newSeqRepo() *seqRepo {
	return &seqRepo{visit: map[counterKey]int{}, token: map[counterKey]int{}}
}

func (s *seqRepo) Next(_ context.Context, tid uuid.UUID, key string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := counterKey{tid, key}
	s.visit[k]++
	s.token[k]++
	return s.visit[k], s.token[k], nil
}

func (s *seqRepo) NextToken(_ context.Context, tid uuid.UUID, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := counterKey{tid, key}
	s.token[k]++
	return s.token[k], nil
}

var errDuplicate = errors.New("duplicate visit number")
