package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"medbook/backend/internal/domain"
)

// Filter narrows appointment queries. All set fields combine with AND
// semantics; zero values are ignored.
type Filter struct {
	ProviderID string
	PatientID  string
	ClinicID   string
	DateFrom   *time.Time
	DateTo     *time.Time
	Statuses   []domain.Status
	Types      []domain.AppointmentType
	TextSearch string
}

type AppointmentRepository interface {
	// InsertValidated is the primary write path: a single transaction
	// that serializes on the provider's day, re-checks the overlap
	// invariant in-database and inserts. Returns ErrConflict when the
	// re-check finds a colliding row.
	InsertValidated(ctx context.Context, appt *domain.Appointment) error

	// Insert is the degraded direct write path with no in-database
	// re-validation. Used only when InsertValidated is unreachable.
	Insert(ctx context.Context, appt *domain.Appointment) error

	Update(ctx context.Context, appt *domain.Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Appointment, error)
	List(ctx context.Context, f Filter) ([]domain.Appointment, error)

	// ListForProviderDay returns the provider's non-cancelled
	// appointments on the given calendar date.
	ListForProviderDay(ctx context.Context, providerID string, date time.Time) ([]domain.Appointment, error)

	// ListForSyncWindow returns the provider's non-cancelled,
	// sync-enabled appointments whose date falls in [from, to].
	ListForSyncWindow(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error)

	// ListCancelledSynced returns cancelled appointments in [from, to]
	// that still have an external calendar event attached.
	ListCancelledSynced(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error)

	// SetSyncMetadata updates only the sync correlation fields.
	SetSyncMetadata(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error

	// ClearSyncMetadata detaches an appointment from its external event
	// after the event has been removed from the provider's calendar.
	ClearSyncMetadata(ctx context.Context, id uuid.UUID) error

	// FindByExternalEventID resolves an external calendar event back to
	// a local appointment, if one was ever correlated.
	FindByExternalEventID(ctx context.Context, providerID, externalEventID string) (*domain.Appointment, error)
}
