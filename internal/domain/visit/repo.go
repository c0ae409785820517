package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/pagination"
)

var (
	ErrNotFound        = errors.New("visit not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
)

// ListFilter selects visits created in [From, To).
type ListFilter struct {
	Status Status
	From   time.Time
	To     time.Time
}

// Repository stores visits and reads the patient and staff tables. Every
// method is scoped to tenantID.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Visit, error)
	// Lock reads a visit and holds its row until the surrounding
	// transaction ends.
	Lock(ctx context.Context, tenantID, id uuid.UUID) (*Visit, error)
	// UpdateStatus sets status and, when doctorID is set, the visit doctor.
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status Status, doctorID *uuid.UUID) (*Visit, error)
	List(ctx context.Context, tenantID uuid.UUID, f ListFilter, p pagination.Params) ([]*Visit, int, error)

	FindPatient(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error)
	// FindPatientBySuffix returns the most recently created patient whose
	// hex id ends with suffix.
	FindPatientBySuffix(ctx context.Context, tenantID uuid.UUID, suffix string) (*Patient, error)

	GetDoctor(ctx context.Context, tenantID, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context, tenantID uuid.UUID) ([]*Doctor, error)
}
