package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"medbook/backend/internal/domain"
	"medbook/backend/internal/store"
)

const (
	// Tokens expiring inside this window are refreshed up front so a
	// batch never starts with credentials about to go stale.
	tokenRefreshWindow = 5 * time.Minute

	defaultCallTimeout = 10 * time.Second
	defaultMaxRetries  = 3
)

// SyncError records one appointment's failure within a batch.
type SyncError struct {
	AppointmentID   uuid.UUID
	ExternalEventID string
	Err             error
}

func (e SyncError) Error() string {
	if e.AppointmentID != uuid.Nil {
		return fmt.Sprintf("appointment %s: %v", e.AppointmentID, e.Err)
	}
	return fmt.Sprintf("event %s: %v", e.ExternalEventID, e.Err)
}

// SyncReport is the outcome of one sync batch.
type SyncReport struct {
	Synced   int
	Removed  int
	Imported int
	Errors   []SyncError
}

type ReconcilerConfig struct {
	Timezone    *time.Location
	CallTimeout time.Duration
	MaxRetries  uint64
}

// Reconciler mirrors internal appointments to a provider's external
// calendar and imports foreign events back. Batches for the same
// provider are serialized; different providers may sync concurrently.
type Reconciler struct {
	appts    store.AppointmentRepository
	settings store.SyncSettingsRepository
	client   ProviderClient

	loc         *time.Location
	callTimeout time.Duration
	maxRetries  uint64
	now         func() time.Time
	log         *slog.Logger

	locks providerLocks
}

func NewReconciler(appts store.AppointmentRepository, settings store.SyncSettingsRepository, client ProviderClient, cfg ReconcilerConfig, log *slog.Logger) *Reconciler {
	loc := cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		appts:       appts,
		settings:    settings,
		client:      client,
		loc:         loc,
		callTimeout: timeout,
		maxRetries:  retries,
		now:         time.Now,
		log:         log.With(slog.String("component", "calendar.sync")),
	}
}

// SyncOutbound pushes the provider's upcoming appointments to the
// external calendar. Each appointment is attempted independently; one
// failure never aborts the batch, except for expired credentials.
func (r *Reconciler) SyncOutbound(ctx context.Context, providerID string) (SyncReport, error) {
	unlock := r.locks.lock(providerID)
	defer unlock()

	log := r.log.With(slog.String("provider_id", providerID), slog.String("direction", "outbound"))

	settings, err := r.settings.GetByProvider(ctx, providerID)
	if err != nil {
		return SyncReport{}, err
	}
	if !settings.Direction.AllowsOutbound() {
		return SyncReport{}, ErrOutboundDisabled
	}

	token, err := r.ensureToken(ctx, settings)
	if err != nil {
		r.recordOutcome(ctx, settings, SyncReport{Errors: []SyncError{{Err: err}}})
		return SyncReport{}, err
	}

	now := r.now().UTC()
	from := dateOnly(now)
	to := dateOnly(now.AddDate(0, 0, settings.SyncHorizonDays))

	appts, err := r.appts.ListForSyncWindow(ctx, providerID, from, to)
	if err != nil {
		return SyncReport{}, err
	}

	var report SyncReport
	var authExpired bool
	for i := range appts {
		appt := &appts[i]
		err := r.pushOne(ctx, token, settings, appt)
		if err == nil {
			report.Synced++
			continue
		}
		if errors.Is(err, errSkipped) {
			continue
		}
		report.Errors = append(report.Errors, SyncError{AppointmentID: appt.ID, Err: err})
		log.Warn("appointment sync failed", slog.Any("err", err), slog.String("appointment_id", appt.ID.String()))
		if errors.Is(err, ErrAuthExpired) {
			// The token went stale mid-batch; remaining calls would
			// all fail the same way.
			authExpired = true
			break
		}
	}

	if !authExpired {
		r.removeCancelled(ctx, token, settings, from, to, &report, log)
	}

	r.recordOutcome(ctx, settings, report)
	log.Info(
		"outbound sync finished",
		slog.Int("synced", report.Synced),
		slog.Int("removed", report.Removed),
		slog.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// removeCancelled propagates cancellations: appointments that were
// mirrored outward and have since been cancelled get their external
// event deleted and the correlation cleared.
func (r *Reconciler) removeCancelled(ctx context.Context, token *oauth2.Token, settings *domain.CalendarSyncSettings, from, to time.Time, report *SyncReport, log *slog.Logger) {
	cancelled, err := r.appts.ListCancelledSynced(ctx, settings.ProviderID, from, to)
	if err != nil {
		report.Errors = append(report.Errors, SyncError{Err: err})
		return
	}

	for i := range cancelled {
		appt := &cancelled[i]
		eventID := *appt.ExternalEventID
		err := r.withRetry(ctx, func(ctx context.Context) error {
			return r.client.DeleteEvent(ctx, token, settings.CalendarID, eventID)
		})
		if err != nil {
			report.Errors = append(report.Errors, SyncError{AppointmentID: appt.ID, ExternalEventID: eventID, Err: err})
			log.Warn("event removal failed", slog.Any("err", err), slog.String("appointment_id", appt.ID.String()))
			if errors.Is(err, ErrAuthExpired) {
				return
			}
			continue
		}
		if err := r.appts.ClearSyncMetadata(ctx, appt.ID); err != nil {
			report.Errors = append(report.Errors, SyncError{AppointmentID: appt.ID, Err: err})
			continue
		}
		report.Removed++
	}
}

var errSkipped = errors.New("skipped")

func (r *Reconciler) pushOne(ctx context.Context, token *oauth2.Token, settings *domain.CalendarSyncSettings, appt *domain.Appointment) error {
	ev, err := r.eventFromAppointment(appt, settings)
	if err != nil {
		return err
	}

	if appt.ExternalEventID != nil {
		if !settings.AutoUpdate {
			return errSkipped
		}
		eventID := *appt.ExternalEventID
		err := r.withRetry(ctx, func(ctx context.Context) error {
			return r.client.UpdateEvent(ctx, token, settings.CalendarID, eventID, ev)
		})
		if err != nil {
			return err
		}
		return r.appts.SetSyncMetadata(ctx, appt.ID, eventID, r.now().UTC())
	}

	if !settings.AutoCreate {
		return errSkipped
	}
	var eventID string
	err = r.withRetry(ctx, func(ctx context.Context) error {
		id, err := r.client.CreateEvent(ctx, token, settings.CalendarID, ev)
		if err != nil {
			return err
		}
		eventID = id
		return nil
	})
	if err != nil {
		return err
	}
	return r.appts.SetSyncMetadata(ctx, appt.ID, eventID, r.now().UTC())
}

// SyncInbound imports external events in the sync horizon that have no
// corresponding local appointment yet. Events already correlated via
// external-event-id are skipped, which makes the import idempotent.
func (r *Reconciler) SyncInbound(ctx context.Context, providerID string) (SyncReport, error) {
	unlock := r.locks.lock(providerID)
	defer unlock()

	log := r.log.With(slog.String("provider_id", providerID), slog.String("direction", "inbound"))

	settings, err := r.settings.GetByProvider(ctx, providerID)
	if err != nil {
		return SyncReport{}, err
	}
	if !settings.Direction.AllowsInbound() {
		return SyncReport{}, ErrInboundDisabled
	}

	token, err := r.ensureToken(ctx, settings)
	if err != nil {
		r.recordOutcome(ctx, settings, SyncReport{Errors: []SyncError{{Err: err}}})
		return SyncReport{}, err
	}

	now := r.now().UTC()
	timeMin := now
	timeMax := now.AddDate(0, 0, settings.SyncHorizonDays)

	var events []Event
	err = r.withRetry(ctx, func(ctx context.Context) error {
		evs, err := r.client.ListEvents(ctx, token, settings.CalendarID, timeMin, timeMax)
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		r.recordOutcome(ctx, settings, SyncReport{Errors: []SyncError{{Err: err}}})
		return SyncReport{}, err
	}

	var report SyncReport
	for _, ev := range events {
		imported, err := r.importOne(ctx, providerID, ev)
		if err != nil {
			report.Errors = append(report.Errors, SyncError{ExternalEventID: ev.ID, Err: err})
			log.Warn("event import failed", slog.Any("err", err), slog.String("event_id", ev.ID))
			continue
		}
		if imported {
			report.Imported++
		}
	}

	r.recordOutcome(ctx, settings, report)
	log.Info("inbound sync finished", slog.Int("imported", report.Imported), slog.Int("errors", len(report.Errors)))
	return report, nil
}

func (r *Reconciler) importOne(ctx context.Context, providerID string, ev Event) (bool, error) {
	if ev.ID == "" || !ev.End.After(ev.Start) {
		return false, nil
	}

	_, err := r.appts.FindByExternalEventID(ctx, providerID, ev.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	start := ev.Start.In(r.loc)
	eventID := ev.ID
	syncedAt := r.now().UTC()
	appt := &domain.Appointment{
		ProviderID:        providerID,
		Date:              dateOnly(start),
		StartTime:         start.Format(domain.TimeLayout),
		DurationMinutes:   int(ev.End.Sub(ev.Start) / time.Minute),
		Type:              domain.TypeConsultation,
		Status:            domain.InitialStatus(),
		Title:             strings.TrimSpace(ev.Title),
		Description:       ev.Description,
		Location:          ev.Location,
		ExternalEventID:   &eventID,
		ExternallySourced: true,
		SyncEnabled:       true,
		LastSyncedAt:      &syncedAt,
	}
	if appt.DurationMinutes <= 0 {
		appt.DurationMinutes = 30
	}
	if appt.Title == "" {
		appt.Title = "Imported event"
	}

	if err := r.appts.Insert(ctx, appt); err != nil {
		return false, err
	}
	return true, nil
}

// ensureToken returns usable credentials, refreshing and persisting
// them first when expiry falls inside the safety window. A failed
// refresh aborts the whole batch as ErrAuthExpired; starting a batch
// on a token about to expire is how half-synced calendars happen.
func (r *Reconciler) ensureToken(ctx context.Context, settings *domain.CalendarSyncSettings) (*oauth2.Token, error) {
	now := r.now().UTC()
	if !settings.TokenExpiringWithin(tokenRefreshWindow, now) {
		return &oauth2.Token{AccessToken: settings.AccessToken, Expiry: settings.TokenExpiresAt}, nil
	}

	tok, err := r.client.RefreshToken(ctx, settings.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}

	settings.AccessToken = tok.AccessToken
	settings.TokenExpiresAt = tok.Expiry.UTC()
	if err := r.settings.Save(ctx, settings); err != nil {
		return nil, err
	}
	r.log.Info("access token refreshed", slog.String("provider_id", settings.ProviderID), slog.Time("expires_at", settings.TokenExpiresAt))
	return tok, nil
}

// withRetry runs one provider call with a per-call timeout and bounded
// exponential backoff. Only ErrProviderUnavailable is retried;
// authorization failures and business errors are permanent.
func (r *Reconciler) withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		err := call(cctx)
		if err == nil {
			return nil
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		if errors.Is(err, ErrProviderUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	return backoff.Retry(op, b)
}

// recordOutcome stamps the settings row with the batch result. Runs
// after all per-appointment attempts, success or not.
func (r *Reconciler) recordOutcome(ctx context.Context, settings *domain.CalendarSyncSettings, report SyncReport) {
	now := r.now().UTC()
	settings.LastSyncAt = &now
	if len(report.Errors) == 0 {
		settings.LastSyncStatus = domain.SyncStatusSuccess
		settings.LastSyncError = ""
	} else {
		settings.LastSyncStatus = domain.SyncStatusError
		msgs := make([]string, 0, len(report.Errors))
		for _, e := range report.Errors {
			msgs = append(msgs, e.Error())
		}
		settings.LastSyncError = strings.Join(msgs, "; ")
	}

	if err := r.settings.Save(ctx, settings); err != nil {
		r.log.Warn("sync bookkeeping failed", slog.Any("err", err), slog.String("provider_id", settings.ProviderID))
	}
}

func (r *Reconciler) eventFromAppointment(appt *domain.Appointment, settings *domain.CalendarSyncSettings) (Event, error) {
	span, err := appt.Interval(r.loc)
	if err != nil {
		return Event{}, err
	}

	title := appt.Title
	if title == "" {
		title = fmt.Sprintf("%s appointment", appt.Type)
	}

	var attendees []string
	if appt.Patient != nil && appt.Patient.Email != "" {
		attendees = append(attendees, appt.Patient.Email)
	}
	if appt.Provider != nil && appt.Provider.Email != "" {
		attendees = append(attendees, appt.Provider.Email)
	}

	return Event{
		Title:           title,
		Description:     appt.Description,
		Start:           span.Start,
		End:             span.End,
		Timezone:        r.loc.String(),
		Location:        appt.Location,
		Attendees:       attendees,
		ReminderMinutes: settings.ReminderMinutes,
	}, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// providerLocks serializes sync batches per provider id. Both sync
// directions read and rewrite the same settings row.
type providerLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *providerLocks) lock(providerID string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	pl, ok := l.m[providerID]
	if !ok {
		pl = &sync.Mutex{}
		l.m[providerID] = pl
	}
	l.mu.Unlock()

	pl.Lock()
	return pl.Unlock
}
