package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"medbook/backend/internal/domain"
	"medbook/backend/internal/store"
)

type AvailabilityInput struct {
	ProviderID      string
	Date            string // "2006-01-02"
	StartTime       string // "15:04"
	DurationMinutes int

	// ExcludeID skips one appointment during the overlap scan, used
	// when re-checking a slot while editing that same appointment.
	ExcludeID uuid.UUID
}

type AvailabilityResult struct {
	Available bool
	Conflict  *domain.ConflictDetail
}

// AvailabilityChecker decides whether a candidate slot is bookable for
// a provider on a given day.
type AvailabilityChecker struct {
	repo store.AppointmentRepository
	loc  *time.Location
	now  func() time.Time
	log  *slog.Logger
}

func NewAvailabilityChecker(repo store.AppointmentRepository, loc *time.Location, log *slog.Logger) *AvailabilityChecker {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &AvailabilityChecker{
		repo: repo,
		loc:  loc,
		now:  time.Now,
		log:  log.With(slog.String("component", "scheduling.availability")),
	}
}

// Check is a pure read. On a store read failure it fails OPEN: booking
// stays possible during a transient outage and the primary write path's
// in-database re-validation remains the real guard. Erring closed here
// would leave the clinic unable to book anything while the store is
// flapping.
func (c *AvailabilityChecker) Check(ctx context.Context, in AvailabilityInput) (AvailabilityResult, error) {
	if strings.TrimSpace(in.ProviderID) == "" {
		return AvailabilityResult{}, validationError("provider_id is required")
	}
	if in.DurationMinutes <= 0 {
		return AvailabilityResult{}, validationError("duration_minutes must be positive")
	}

	start, err := domain.CombineDateTime(in.Date, in.StartTime, c.loc)
	if err != nil {
		return AvailabilityResult{}, validationError(err.Error())
	}
	target := domain.NewTimeRange(start, time.Duration(in.DurationMinutes)*time.Minute)

	if start.Before(c.now().In(c.loc)) {
		return AvailabilityResult{
			Available: false,
			Conflict: &domain.ConflictDetail{
				Reason:  domain.ConflictPastDate,
				Message: "requested slot starts in the past",
				Range:   target,
			},
		}, nil
	}

	date, err := time.ParseInLocation(domain.DateLayout, in.Date, time.UTC)
	if err != nil {
		return AvailabilityResult{}, validationError(err.Error())
	}

	existing, err := c.repo.ListForProviderDay(ctx, in.ProviderID, date)
	if err != nil {
		c.log.Warn(
			"availability read failed; failing open",
			slog.Any("err", err),
			slog.String("provider_id", in.ProviderID),
			slog.String("date", in.Date),
		)
		return AvailabilityResult{Available: true}, nil
	}

	for i := range existing {
		appt := &existing[i]
		if in.ExcludeID != uuid.Nil && appt.ID == in.ExcludeID {
			continue
		}
		span, err := appt.Interval(c.loc)
		if err != nil {
			c.log.Warn(
				"skipping appointment with unparseable time",
				slog.Any("err", err),
				slog.String("appointment_id", appt.ID.String()),
			)
			continue
		}
		if target.Overlaps(span) {
			return AvailabilityResult{
				Available: false,
				Conflict: &domain.ConflictDetail{
					Reason:        domain.ConflictOverlap,
					Message:       fmt.Sprintf("overlaps existing appointment %s", span),
					AppointmentID: appt.ID,
					Title:         appt.Title,
					Range:         span,
				},
			}, nil
		}
	}

	return AvailabilityResult{Available: true}, nil
}
