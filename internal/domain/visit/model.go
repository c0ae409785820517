package visit

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/platform/apperr"
)

type Status string

const (
	StatusCreated         Status = "created"
	StatusTriage          Status = "triage"
	StatusWithDoctor      Status = "with_doctor"
	StatusAwaitingBilling Status = "awaiting_billing"
	StatusClosed          Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusTriage, StatusWithDoctor, StatusAwaitingBilling, StatusClosed:
		return true
	}
	return false
}

// advanceTargets maps the stages a visit can be advanced to onto the visit
// status it takes there.
var advanceTargets = map[queue.Stage]Status{
	queue.StageTriage:  StatusTriage,
	queue.StageDoctor:  StatusWithDoctor,
	queue.StageBilling: StatusAwaitingBilling,
}

// StatusForStage returns the visit status for an advance target.
func StatusForStage(stage queue.Stage) (Status, bool) {
	s, ok := advanceTargets[stage]
	return s, ok
}

type Visit struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	TenantID    uuid.UUID  `db:"tenant_id" json:"tenantId"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patientId"`
	VisitNumber string     `db:"visit_number" json:"visitNumber"`
	Status      Status     `db:"status" json:"status"`
	DoctorID    *uuid.UUID `db:"doctor_id" json:"doctorId,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
	ClosedAt    *time.Time `db:"closed_at" json:"closedAt,omitempty"`
}

type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenantId"`
	FullName  string    `db:"full_name" json:"fullName"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// DisplayCode is the short identifier printed on patient cards.
func (p *Patient) DisplayCode() string {
	hex := strings.ReplaceAll(p.ID.String(), "-", "")
	return "P-" + strings.ToUpper(hex[len(hex)-8:])
}

// Doctor is the booking summary of a staff user with the doctor role.
type Doctor struct {
	ID             uuid.UUID `db:"id" json:"id"`
	FullName       string    `db:"full_name" json:"fullName"`
	Specialization *string   `db:"specialization" json:"specialization,omitempty"`
	Role           string    `db:"role" json:"-"`
	IsActive       bool      `db:"is_active" json:"-"`
}

// Bookable reports whether the user can take doctor-stage patients.
func (d *Doctor) Bookable() bool {
	return d != nil && d.IsActive && d.Role == "doctor"
}

// minSuffix is the shortest display code fragment accepted.
const minSuffix = 6

var displayCode = regexp.MustCompile(`^[A-Za-z]{1,4}-([0-9A-Fa-f-]+)$`)

// PatientRef is a parsed patient identifier: either a canonical id or a
// trailing fragment of one.
type PatientRef struct {
	ID     *uuid.UUID
	Suffix string
}

// ParsePatientRef accepts a canonical patient id or a display code such as
// "P-3F9A1C". Suffixes are normalized to lowercase hex without hyphens.
func ParsePatientRef(raw string) (PatientRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PatientRef{}, apperr.Validation("patientIdentifier is required")
	}
	if id, err := uuid.Parse(raw); err == nil {
		return PatientRef{ID: &id}, nil
	}
	m := displayCode.FindStringSubmatch(raw)
	if m == nil {
		return PatientRef{}, apperr.Validation("invalid patientIdentifier: %q", raw)
	}
	suffix := strings.ToLower(strings.ReplaceAll(m[1], "-", ""))
	if len(suffix) < minSuffix || len(suffix) > 32 {
		return PatientRef{}, apperr.Validation("patient code must carry %d to 32 hex characters", minSuffix)
	}
	return PatientRef{Suffix: suffix}, nil
}

// Result is the visit together with the queue item an operation produced.
type Result struct {
	Visit     *Visit      `json:"visit"`
	QueueItem *queue.Item `json:"queueItem"`
}

// Detail is a visit with its full queue history.
type Detail struct {
	*Visit
	QueueItems []*queue.Item `json:"queueItems"`
}

type CreateRequest struct {
	PatientIdentifier string         `json:"patientIdentifier"`
	SkipTriage        bool           `json:"skipTriage"`
	Priority          queue.Priority `json:"priority"`
	DoctorID          *uuid.UUID     `json:"doctorId"`
}

type SkipTriageRequest struct {
	DoctorID *uuid.UUID     `json:"doctorId"`
	Priority queue.Priority `json:"priority"`
}

type AdvanceRequest struct {
	ToStage  queue.Stage `json:"toStage"`
	DoctorID *uuid.UUID  `json:"doctorId"`
}
