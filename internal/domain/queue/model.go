package queue

import (
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageReception Stage = "reception"
	StageTriage    Stage = "triage"
	StageDoctor    Stage = "doctor"
	StagePharmacy  Stage = "pharmacy"
	StageLab       Stage = "lab"
	StageBilling   Stage = "billing"
)

var stages = map[Stage]bool{
	StageReception: true, StageTriage: true, StageDoctor: true,
	StagePharmacy: true, StageLab: true, StageBilling: true,
}

func (s Stage) Valid() bool { return stages[s] }

// ValidStage is the string form of Stage.Valid.
func ValidStage(s string) bool { return Stage(s).Valid() }

type Priority string

const (
	PriorityEmergency Priority = "emergency"
	PriorityUrgent    Priority = "urgent"
	PriorityStandard  Priority = "standard"
)

// priorities is ordered most urgent first.
var priorities = []Priority{PriorityEmergency, PriorityUrgent, PriorityStandard}

// Rank orders priorities: lower is served first. Unknown values rank last.
func (p Priority) Rank() int {
	for i, q := range priorities {
		if p == q {
			return i
		}
	}
	return len(priorities)
}

func (p Priority) Valid() bool { return p.Rank() < len(priorities) }

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusCalled  Status = "called"
	StatusServed  Status = "served"
	StatusSkipped Status = "skipped"
)

// Active items are the ones shown on a board.
func (s Status) Active() bool { return s == StatusWaiting || s == StatusCalled }

func (s Status) Terminal() bool { return s == StatusServed || s == StatusSkipped }

// Item is one ticket for one stage of a visit.
type Item struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	TenantID         uuid.UUID  `db:"tenant_id" json:"tenantId"`
	VisitID          uuid.UUID  `db:"visit_id" json:"visitId"`
	Stage            Stage      `db:"stage" json:"stage"`
	Priority         Priority   `db:"priority" json:"priority"`
	TokenNumber      string     `db:"token_number" json:"tokenNumber"`
	AssignedDoctorID *uuid.UUID `db:"assigned_doctor_id" json:"assignedDoctorId"`
	Status           Status     `db:"status" json:"status"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
	CalledAt         *time.Time `db:"called_at" json:"calledAt,omitempty"`
	ServedAt         *time.Time `db:"served_at" json:"servedAt,omitempty"`
	SkippedAt        *time.Time `db:"skipped_at" json:"skippedAt,omitempty"`
}

// Before reports whether x is ahead of y in a stage's line.
func Before(x, y *Item) bool {
	if rx, ry := x.Priority.Rank(), y.Priority.Rank(); rx != ry {
		return rx < ry
	}
	if !x.CreatedAt.Equal(y.CreatedAt) {
		return x.CreatedAt.Before(y.CreatedAt)
	}
	return x.ID.String() < y.ID.String()
}

// visibleTo applies the doctor filter: unassigned items or items for doctorID.
func (it *Item) visibleTo(doctorID *uuid.UUID) bool {
	return doctorID == nil || it.AssignedDoctorID == nil || *it.AssignedDoctorID == *doctorID
}

// BoardEntry is the display projection. It carries no patient details.
type BoardEntry struct {
	TokenNumber string     `json:"tokenNumber"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	DoctorID    *uuid.UUID `json:"doctorId,omitempty"`
	CalledAt    *time.Time `json:"calledAt,omitempty"`
	WaitingFor  string     `json:"waitingFor"`
}

func toBoard(items []*Item, now time.Time) []BoardEntry {
	out := make([]BoardEntry, 0, len(items))
	for _, it := range items {
		out = append(out, BoardEntry{
			TokenNumber: it.TokenNumber,
			Priority:    it.Priority,
			Status:      it.Status,
			DoctorID:    it.AssignedDoctorID,
			CalledAt:    it.CalledAt,
			WaitingFor:  now.Sub(it.CreatedAt).Truncate(time.Minute).String(),
		})
	}
	return out
}
