package triage

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/platform/apperr"
)

// Vitals are the observations taken at the triage desk. Absent readings stay
// nil.
type Vitals struct {
	TemperatureC *float64 `json:"temperatureC,omitempty"`
	PulseBPM     *int     `json:"pulseBpm,omitempty"`
	RespRate     *int     `json:"respiratoryRate,omitempty"`
	SystolicBP   *int     `json:"systolicBp,omitempty"`
	DiastolicBP  *int     `json:"diastolicBp,omitempty"`
	SpO2         *int     `json:"spo2,omitempty"`
	WeightKg     *float64 `json:"weightKg,omitempty"`
	HeightCm     *float64 `json:"heightCm,omitempty"`
}

type bound struct {
	name     string
	min, max float64
}

func checkRange(b bound, v float64) error {
	if v < b.min || v > b.max {
		return apperr.Validation("%s out of range (%g-%g)", b.name, b.min, b.max)
	}
	return nil
}

func (v *Vitals) Validate() error {
	if v == nil {
		return nil
	}
	floats := []struct {
		b bound
		v *float64
	}{
		{bound{"temperatureC", 25, 45}, v.TemperatureC},
		{bound{"weightKg", 0.3, 500}, v.WeightKg},
		{bound{"heightCm", 20, 280}, v.HeightCm},
	}
	for _, f := range floats {
		if f.v != nil {
			if err := checkRange(f.b, *f.v); err != nil {
				return err
			}
		}
	}
	ints := []struct {
		b bound
		v *int
	}{
		{bound{"pulseBpm", 20, 300}, v.PulseBPM},
		{bound{"respiratoryRate", 4, 80}, v.RespRate},
		{bound{"systolicBp", 40, 300}, v.SystolicBP},
		{bound{"diastolicBp", 20, 200}, v.DiastolicBP},
		{bound{"spo2", 50, 100}, v.SpO2},
	}
	for _, i := range ints {
		if i.v != nil {
			if err := checkRange(i.b, float64(*i.v)); err != nil {
				return err
			}
		}
	}
	if v.SystolicBP != nil && v.DiastolicBP != nil && *v.DiastolicBP >= *v.SystolicBP {
		return apperr.Validation("diastolicBp must be below systolicBp")
	}
	return nil
}

// merge overlays the readings present in next.
func (v Vitals) merge(next *Vitals) Vitals {
	if next == nil {
		return v
	}
	if next.TemperatureC != nil {
		v.TemperatureC = next.TemperatureC
	}
	if next.PulseBPM != nil {
		v.PulseBPM = next.PulseBPM
	}
	if next.RespRate != nil {
		v.RespRate = next.RespRate
	}
	if next.SystolicBP != nil {
		v.SystolicBP = next.SystolicBP
	}
	if next.DiastolicBP != nil {
		v.DiastolicBP = next.DiastolicBP
	}
	if next.SpO2 != nil {
		v.SpO2 = next.SpO2
	}
	if next.WeightKg != nil {
		v.WeightKg = next.WeightKg
	}
	if next.HeightCm != nil {
		v.HeightCm = next.HeightCm
	}
	return v
}

type Record struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	TenantID   uuid.UUID       `db:"tenant_id" json:"tenantId"`
	VisitID    uuid.UUID       `db:"visit_id" json:"visitId"`
	Vitals     Vitals          `db:"vitals" json:"vitals"`
	Symptoms   string          `db:"symptoms" json:"symptoms"`
	Priority   *queue.Priority `db:"priority" json:"priority,omitempty"`
	Notes      string          `db:"notes" json:"notes"`
	RecordedBy *string         `db:"recorded_by" json:"recordedBy,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}

// UpsertRequest is a partial update: nil fields keep their stored value.
type UpsertRequest struct {
	Vitals   *Vitals         `json:"vitals"`
	Symptoms *string         `json:"symptoms"`
	Priority *queue.Priority `json:"priority"`
	Notes    *string         `json:"notes"`
}

func (r *UpsertRequest) Validate() error {
	if r.Priority != nil && !r.Priority.Valid() {
		return apperr.Validation("invalid priority: %s", *r.Priority)
	}
	return r.Vitals.Validate()
}

func (rec *Record) apply(req UpsertRequest) {
	rec.Vitals = rec.Vitals.merge(req.Vitals)
	if req.Symptoms != nil {
		rec.Symptoms = *req.Symptoms
	}
	if req.Priority != nil {
		p := *req.Priority
		rec.Priority = &p
	}
	if req.Notes != nil {
		rec.Notes = *req.Notes
	}
}
