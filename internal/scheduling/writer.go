package scheduling

import (
	"context"
	"strings"

	"medbook/backend/internal/domain"
	"medbook/backend/internal/store"
)

// writeStrategy is one way of persisting a new appointment. Strategies
// are tried in order; a store.ErrUnavailable result moves on to the
// next one, anything else (success or a business error) is final.
type writeStrategy interface {
	Name() string
	Write(ctx context.Context, appt *domain.Appointment) error
}

// validatedWrite is the primary path: the repository runs the insert
// inside a transaction that re-checks the overlap invariant against
// committed rows.
type validatedWrite struct {
	repo store.AppointmentRepository
}

func (w validatedWrite) Name() string { return "validated" }

func (w validatedWrite) Write(ctx context.Context, appt *domain.Appointment) error {
	return w.repo.InsertValidated(ctx, appt)
}

// directWrite is the fallback when the validated path is unreachable.
// It re-applies the invariants it can check client-side and inserts
// without in-database re-validation. Concurrent double booking is
// possible on this path; that is a known, accepted degradation.
type directWrite struct {
	repo store.AppointmentRepository
}

func (w directWrite) Name() string { return "direct" }

func (w directWrite) Write(ctx context.Context, appt *domain.Appointment) error {
	if strings.TrimSpace(appt.ProviderID) == "" {
		return validationError("provider_id is required")
	}
	if strings.TrimSpace(appt.PatientID) == "" {
		return validationError("patient_id is required")
	}
	if appt.StartTime == "" {
		return validationError("start_time is required")
	}
	if appt.DurationMinutes <= 0 {
		appt.DurationMinutes = DefaultDurationMinutes
	}
	if appt.Status == "" {
		appt.Status = domain.InitialStatus()
	}
	return w.repo.Insert(ctx, appt)
}
