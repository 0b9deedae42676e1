package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"medbook/backend/internal/domain"
	"medbook/backend/internal/store"
)

const DefaultDurationMinutes = 30

// Scheduler is the appointment store adapter: it validates booking
// requests, runs the availability check, writes through the strategy
// chain and drives lifecycle transitions.
type Scheduler struct {
	repo     store.AppointmentRepository
	checker  *AvailabilityChecker
	writers  []writeStrategy
	throttle *QueryThrottle
	loc      *time.Location
	log      *slog.Logger
}

func NewScheduler(repo store.AppointmentRepository, checker *AvailabilityChecker, throttle *QueryThrottle, loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		repo:     repo,
		checker:  checker,
		writers:  []writeStrategy{validatedWrite{repo: repo}, directWrite{repo: repo}},
		throttle: throttle,
		loc:      loc,
		log:      log.With(slog.String("component", "scheduling.service")),
	}
}

// CheckAvailability exposes the checker to transports so the UI can
// probe a slot before submitting a booking.
func (s *Scheduler) CheckAvailability(ctx context.Context, in AvailabilityInput) (AvailabilityResult, error) {
	return s.checker.Check(ctx, in)
}

type CreateInput struct {
	ProviderID string
	PatientID  string
	ClinicID   string

	Date            string // "2006-01-02"
	StartTime       string // "15:04"
	DurationMinutes int
	Type            domain.AppointmentType

	Title       string
	Description string
	Location    string
	Notes       string

	SyncEnabled *bool
}

func (s *Scheduler) Create(ctx context.Context, in CreateInput) (*domain.Appointment, error) {
	if strings.TrimSpace(in.ProviderID) == "" {
		return nil, validationError("provider_id is required")
	}
	if strings.TrimSpace(in.PatientID) == "" {
		return nil, validationError("patient_id is required")
	}
	if in.Date == "" || in.StartTime == "" {
		return nil, validationError("date and start_time are required")
	}

	duration := in.DurationMinutes
	if duration <= 0 {
		duration = DefaultDurationMinutes
	}
	apptType := in.Type
	if apptType == "" {
		apptType = domain.TypeConsultation
	}
	if !apptType.Valid() {
		return nil, validationError("unknown appointment type")
	}

	res, err := s.checker.Check(ctx, AvailabilityInput{
		ProviderID:      in.ProviderID,
		Date:            in.Date,
		StartTime:       in.StartTime,
		DurationMinutes: duration,
	})
	if err != nil {
		return nil, err
	}
	if !res.Available {
		if res.Conflict != nil && res.Conflict.Reason == domain.ConflictPastDate {
			return nil, &PastDateError{Detail: *res.Conflict}
		}
		detail := domain.ConflictDetail{Reason: domain.ConflictOverlap, Message: "slot is taken"}
		if res.Conflict != nil {
			detail = *res.Conflict
		}
		return nil, &ConflictError{Detail: detail}
	}

	date, err := time.ParseInLocation(domain.DateLayout, in.Date, time.UTC)
	if err != nil {
		return nil, validationError(err.Error())
	}

	syncEnabled := true
	if in.SyncEnabled != nil {
		syncEnabled = *in.SyncEnabled
	}

	appt := &domain.Appointment{
		ProviderID:      in.ProviderID,
		PatientID:       in.PatientID,
		ClinicID:        in.ClinicID,
		Date:            date,
		StartTime:       in.StartTime,
		DurationMinutes: duration,
		Type:            apptType,
		Status:          domain.InitialStatus(),
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		Location:        in.Location,
		Notes:           in.Notes,
		SyncEnabled:     syncEnabled,
	}

	if err := s.write(ctx, appt); err != nil {
		return nil, err
	}

	// Re-read the canonical row so callers observe the server-computed
	// shape, joined projections included.
	return s.repo.GetByID(ctx, appt.ID)
}

// write tries each strategy in order, moving on only when the store is
// unreachable. The degraded path is logged: it skips in-database
// re-validation and we want that visible in operation.
func (s *Scheduler) write(ctx context.Context, appt *domain.Appointment) error {
	var lastErr error
	for i, w := range s.writers {
		err := w.Write(ctx, appt)
		if err == nil {
			if i > 0 {
				s.log.Warn(
					"appointment written via degraded path",
					slog.String("strategy", w.Name()),
					slog.String("appointment_id", appt.ID.String()),
					slog.String("provider_id", appt.ProviderID),
				)
			}
			return nil
		}
		if errors.Is(err, store.ErrConflict) {
			return &ConflictError{Detail: domain.ConflictDetail{
				Reason:  domain.ConflictOverlap,
				Message: "slot was taken concurrently",
			}}
		}
		if !errors.Is(err, store.ErrUnavailable) {
			return err
		}
		s.log.Warn(
			"write path unavailable",
			slog.Any("err", err),
			slog.String("strategy", w.Name()),
		)
		lastErr = err
	}
	return lastErr
}

type UpdateInput struct {
	Date            *string
	StartTime       *string
	DurationMinutes *int
	Type            *domain.AppointmentType

	Title       *string
	Description *string
	Location    *string
	Notes       *string
	SyncEnabled *bool
}

func (in UpdateInput) reschedules() bool {
	return in.Date != nil || in.StartTime != nil || in.DurationMinutes != nil
}

func (s *Scheduler) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*domain.Appointment, error) {
	if id == uuid.Nil {
		return nil, validationError("appointment_id is required")
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Date != nil {
		d, err := time.ParseInLocation(domain.DateLayout, *in.Date, time.UTC)
		if err != nil {
			return nil, validationError(err.Error())
		}
		appt.Date = d
	}
	if in.StartTime != nil {
		appt.StartTime = *in.StartTime
	}
	if in.DurationMinutes != nil {
		if *in.DurationMinutes <= 0 {
			return nil, validationError("duration_minutes must be positive")
		}
		appt.DurationMinutes = *in.DurationMinutes
	}
	if in.Type != nil {
		if !in.Type.Valid() {
			return nil, validationError("unknown appointment type")
		}
		appt.Type = *in.Type
	}
	if in.Title != nil {
		appt.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		appt.Description = *in.Description
	}
	if in.Location != nil {
		appt.Location = *in.Location
	}
	if in.Notes != nil {
		appt.Notes = *in.Notes
	}
	if in.SyncEnabled != nil {
		appt.SyncEnabled = *in.SyncEnabled
	}

	if in.reschedules() {
		res, err := s.checker.Check(ctx, AvailabilityInput{
			ProviderID:      appt.ProviderID,
			Date:            appt.Date.Format(domain.DateLayout),
			StartTime:       appt.StartTime,
			DurationMinutes: appt.DurationMinutes,
			ExcludeID:       appt.ID,
		})
		if err != nil {
			return nil, err
		}
		if !res.Available {
			if res.Conflict != nil && res.Conflict.Reason == domain.ConflictPastDate {
				return nil, &PastDateError{Detail: *res.Conflict}
			}
			detail := domain.ConflictDetail{Reason: domain.ConflictOverlap, Message: "slot is taken"}
			if res.Conflict != nil {
				detail = *res.Conflict
			}
			return nil, &ConflictError{Detail: detail}
		}
	}

	if err := s.repo.Update(ctx, appt); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Get lists appointments matching the filter. When queries arrive
// faster than the configured minimum interval the call short-circuits
// to an empty result instead of erroring.
func (s *Scheduler) Get(ctx context.Context, f store.Filter) ([]domain.Appointment, error) {
	if !s.throttle.Allow() {
		s.log.Debug("appointment query throttled")
		return []domain.Appointment{}, nil
	}
	return s.repo.List(ctx, f)
}

// Transition moves an appointment to a new lifecycle status. Terminal
// statuses permit no outgoing transitions.
func (s *Scheduler) Transition(ctx context.Context, id uuid.UUID, to domain.Status) (*domain.Appointment, error) {
	if !to.Valid() {
		return nil, validationError("unknown status")
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(appt.Status, to) {
		return nil, &TransitionError{From: appt.Status, To: to}
	}

	from := appt.Status
	appt.Status = to
	if err := s.repo.Update(ctx, appt); err != nil {
		return nil, err
	}

	s.log.Info(
		"appointment status changed",
		slog.String("appointment_id", id.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return s.repo.GetByID(ctx, id)
}

// Cancel is sugar over Transition mapping the actor to its
// cancellation status.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID, by domain.CancelActor) (*domain.Appointment, error) {
	status, ok := by.Status()
	if !ok {
		return nil, validationError("cancelled_by must be clinic or patient")
	}
	return s.Transition(ctx, id, status)
}
