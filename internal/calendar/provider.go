package calendar

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// Event is the provider-neutral external calendar event shape.
type Event struct {
	ID              string
	Title           string
	Description     string
	Start           time.Time
	End             time.Time
	Timezone        string
	Location        string
	Attendees       []string
	ReminderMinutes int
}

// ProviderClient is the boundary to an external calendar provider.
// Credentials are supplied per call; the reconciler owns refresh.
type ProviderClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	CreateEvent(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) (string, error)
	UpdateEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string, ev Event) error
	DeleteEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error
	ListEvents(ctx context.Context, token *oauth2.Token, calendarID string, timeMin, timeMax time.Time) ([]Event, error)
}

var (
	// ErrAuthExpired means the stored credentials no longer work and a
	// refresh either failed or was rejected. Aborts the current batch.
	ErrAuthExpired = errors.New("calendar auth expired")

	// ErrProviderUnavailable is a network/timeout/5xx failure and is
	// retryable at single-appointment granularity.
	ErrProviderUnavailable = errors.New("calendar provider unavailable")

	// ErrInboundDisabled is returned when an import is requested but
	// the provider's sync direction does not allow pulling events.
	ErrInboundDisabled = errors.New("inbound sync not enabled for provider")

	// ErrOutboundDisabled mirrors ErrInboundDisabled for pushes.
	ErrOutboundDisabled = errors.New("outbound sync not enabled for provider")
)
