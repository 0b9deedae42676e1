package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"medbook/backend/internal/domain"
	"medbook/backend/internal/store"
)

type fakeApptRepo struct {
	insertFn                func(ctx context.Context, appt *domain.Appointment) error
	listForSyncWindowFn     func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error)
	listCancelledSyncedFn   func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error)
	setSyncMetadataFn       func(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error
	clearSyncMetadataFn     func(ctx context.Context, id uuid.UUID) error
	findByExternalEventIDFn func(ctx context.Context, providerID, externalEventID string) (*domain.Appointment, error)
}

func (f *fakeApptRepo) InsertValidated(ctx context.Context, appt *domain.Appointment) error {
	panic("InsertValidated not configured")
}

func (f *fakeApptRepo) Insert(ctx context.Context, appt *domain.Appointment) error {
	if f.insertFn == nil {
		panic("Insert not configured")
	}
	return f.insertFn(ctx, appt)
}

func (f *fakeApptRepo) Update(ctx context.Context, appt *domain.Appointment) error {
	panic("Update not configured")
}

func (f *fakeApptRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	panic("GetByID not configured")
}

func (f *fakeApptRepo) List(ctx context.Context, filter store.Filter) ([]domain.Appointment, error) {
	panic("List not configured")
}

func (f *fakeApptRepo) ListForProviderDay(ctx context.Context, providerID string, date time.Time) ([]domain.Appointment, error) {
	panic("ListForProviderDay not configured")
}

func (f *fakeApptRepo) ListForSyncWindow(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
	if f.listForSyncWindowFn == nil {
		panic("ListForSyncWindow not configured")
	}
	return f.listForSyncWindowFn(ctx, providerID, from, to)
}

func (f *fakeApptRepo) ListCancelledSynced(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
	if f.listCancelledSyncedFn == nil {
		panic("ListCancelledSynced not configured")
	}
	return f.listCancelledSyncedFn(ctx, providerID, from, to)
}

func (f *fakeApptRepo) ClearSyncMetadata(ctx context.Context, id uuid.UUID) error {
	if f.clearSyncMetadataFn == nil {
		panic("ClearSyncMetadata not configured")
	}
	return f.clearSyncMetadataFn(ctx, id)
}

func (f *fakeApptRepo) SetSyncMetadata(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error {
	if f.setSyncMetadataFn == nil {
		panic("SetSyncMetadata not configured")
	}
	return f.setSyncMetadataFn(ctx, id, externalEventID, syncedAt)
}

func (f *fakeApptRepo) FindByExternalEventID(ctx context.Context, providerID, externalEventID string) (*domain.Appointment, error) {
	if f.findByExternalEventIDFn == nil {
		panic("FindByExternalEventID not configured")
	}
	return f.findByExternalEventIDFn(ctx, providerID, externalEventID)
}

type fakeSettingsRepo struct {
	getByProviderFn func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error)
	saveFn          func(ctx context.Context, settings *domain.CalendarSyncSettings) error
}

func (f *fakeSettingsRepo) GetByProvider(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
	if f.getByProviderFn == nil {
		panic("GetByProvider not configured")
	}
	return f.getByProviderFn(ctx, providerID)
}

func (f *fakeSettingsRepo) Save(ctx context.Context, settings *domain.CalendarSyncSettings) error {
	if f.saveFn == nil {
		panic("Save not configured")
	}
	return f.saveFn(ctx, settings)
}

func (f *fakeSettingsRepo) ListProviderIDs(ctx context.Context) ([]string, error) {
	panic("ListProviderIDs not configured")
}

type fakeClient struct {
	refreshTokenFn func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	createEventFn  func(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) (string, error)
	updateEventFn  func(ctx context.Context, token *oauth2.Token, calendarID, eventID string, ev Event) error
	deleteEventFn  func(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error
	listEventsFn   func(ctx context.Context, token *oauth2.Token, calendarID string, timeMin, timeMax time.Time) ([]Event, error)
}

func (f *fakeClient) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if f.refreshTokenFn == nil {
		panic("RefreshToken not configured")
	}
	return f.refreshTokenFn(ctx, refreshToken)
}

func (f *fakeClient) CreateEvent(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) (string, error) {
	if f.createEventFn == nil {
		panic("CreateEvent not configured")
	}
	return f.createEventFn(ctx, token, calendarID, ev)
}

func (f *fakeClient) UpdateEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string, ev Event) error {
	if f.updateEventFn == nil {
		panic("UpdateEvent not configured")
	}
	return f.updateEventFn(ctx, token, calendarID, eventID, ev)
}

func (f *fakeClient) DeleteEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error {
	if f.deleteEventFn == nil {
		panic("DeleteEvent not configured")
	}
	return f.deleteEventFn(ctx, token, calendarID, eventID)
}

func (f *fakeClient) ListEvents(ctx context.Context, token *oauth2.Token, calendarID string, timeMin, timeMax time.Time) ([]Event, error) {
	if f.listEventsFn == nil {
		panic("ListEvents not configured")
	}
	return f.listEventsFn(ctx, token, calendarID, timeMin, timeMax)
}

var syncNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func freshSettings() *domain.CalendarSyncSettings {
	return &domain.CalendarSyncSettings{
		ProviderID:      "prov-1",
		CalendarID:      "cal-1",
		AccessToken:     "live-token",
		RefreshToken:    "refresh-token",
		TokenExpiresAt:  syncNow.Add(time.Hour),
		Direction:       domain.SyncBidirectional,
		AutoCreate:      true,
		AutoUpdate:      true,
		SyncHorizonDays: 7,
		ReminderMinutes: 30,
	}
}

func newTestReconciler(appts *fakeApptRepo, settings *fakeSettingsRepo, client *fakeClient) *Reconciler {
	r := NewReconciler(appts, settings, client, ReconcilerConfig{
		Timezone:    time.UTC,
		CallTimeout: time.Second,
		MaxRetries:  1,
	}, nil)
	r.now = func() time.Time { return syncNow }
	return r
}

func syncAppt(id uuid.UUID, externalEventID string) domain.Appointment {
	appt := domain.Appointment{
		ID:              id,
		ProviderID:      "prov-1",
		PatientID:       "pat-1",
		Date:            time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		StartTime:       "10:00",
		DurationMinutes: 30,
		Type:            domain.TypeConsultation,
		Status:          domain.StatusScheduled,
		Title:           "Checkup",
		SyncEnabled:     true,
	}
	if externalEventID != "" {
		appt.ExternalEventID = &externalEventID
	}
	return appt
}

func noCancelled(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
	return nil, nil
}

func TestSyncOutbound_CreatesAndCorrelatesNewAppointments(t *testing.T) {
	id := uuid.New()
	settings := freshSettings()

	var correlated string
	appts := &fakeApptRepo{
		listForSyncWindowFn: func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
			if want := to.Sub(from); want != 7*24*time.Hour {
				t.Fatalf("sync window = %v, want 7 days", want)
			}
			return []domain.Appointment{syncAppt(id, "")}, nil
		},
		listCancelledSyncedFn: noCancelled,
		setSyncMetadataFn: func(ctx context.Context, gotID uuid.UUID, externalEventID string, syncedAt time.Time) error {
			if gotID != id {
				t.Fatalf("correlated id = %s, want %s", gotID, id)
			}
			correlated = externalEventID
			return nil
		},
	}
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error { return nil },
	}
	client := &fakeClient{
		createEventFn: func(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) (string, error) {
			if token.AccessToken != "live-token" {
				t.Fatalf("token = %q, want stored access token", token.AccessToken)
			}
			if ev.Title != "Checkup" {
				t.Fatalf("event title = %q", ev.Title)
			}
			return "ev-123", nil
		},
	}

	report, err := newTestReconciler(appts, settingsRepo, client).SyncOutbound(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("SyncOutbound error: %v", err)
	}
	if report.Synced != 1 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if correlated != "ev-123" {
		t.Fatalf("external event id = %q, want ev-123", correlated)
	}
	if settings.LastSyncStatus != domain.SyncStatusSuccess {
		t.Fatalf("last sync status = %s", settings.LastSyncStatus)
	}
	if settings.LastSyncAt == nil || !settings.LastSyncAt.Equal(syncNow) {
		t.Fatalf("last sync at = %v", settings.LastSyncAt)
	}
}

func TestSyncOutbound_UpdatesAlreadyCorrelatedAppointments(t *testing.T) {
	id := uuid.New()
	settings := freshSettings()

	var updatedEventID string
	appts := &fakeApptRepo{
		listForSyncWindowFn: func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
			return []domain.Appointment{syncAppt(id, "ev-existing")}, nil
		},
		listCancelledSyncedFn: noCancelled,
		setSyncMetadataFn: func(ctx context.Context, gotID uuid.UUID, externalEventID string, syncedAt time.Time) error {
			return nil
		},
	}
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error { return nil },
	}
	client := &fakeClient{
		updateEventFn: func(ctx context.Context, token *oauth2.Token, calendarID, eventID string, ev Event) error {
			updatedEventID = eventID
			return nil
		},
		createEventFn: func(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) (string, error) {
			t.Fatal("correlated appointments must be updated, not re-created")
			return "", nil
		},
	}

	report, err := newTestReconciler(appts, settingsRepo, client).SyncOutbound(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("SyncOutbound error: %v", err)
	}
	if report.Synced != 1 {
		t.Fatalf("report = %+v", report)
	}
	if updatedEventID != "ev-existing" {
		t.Fatalf("updated event = %q, want ev-existing", updatedEventID)
	}
}

func TestSyncOutbound_DirectionGate(t *testing.T) {
	settings := freshSettings()
	settings.Direction = domain.SyncFromExternal
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
	}

	_, err := newTestReconciler(&fakeApptRepo{}, settingsRepo, &fakeClient{}).SyncOutbound(context.Background(), "prov-1")
	if !errors.Is(err, ErrOutboundDisabled) {
		t.Fatalf("err = %v, want ErrOutboundDisabled", err)
	}
}

func TestSyncOutbound_RefreshesExpiringToken(t *testing.T) {
	settings := freshSettings()
	settings.TokenExpiresAt = syncNow.Add(time.Minute)

	var saved bool
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error {
			saved = true
			return nil
		},
	}
	client := &fakeClient{
		refreshTokenFn: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			if refreshToken != "refresh-token" {
				t.Fatalf("refresh token = %q", refreshToken)
			}
			return &oauth2.Token{AccessToken: "new-token", Expiry: syncNow.Add(time.Hour)}, nil
		},
		createEventFn: func(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) (string, error) {
			if token.AccessToken != "new-token" {
				t.Fatalf("batch must use the refreshed token, got %q", token.AccessToken)
			}
			return "ev-1", nil
		},
	}
	appts := &fakeApptRepo{
		listForSyncWindowFn: func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
			return []domain.Appointment{syncAppt(uuid.New(), "")}, nil
		},
		listCancelledSyncedFn: noCancelled,
		setSyncMetadataFn: func(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error {
			return nil
		},
	}

	_, err := newTestReconciler(appts, settingsRepo, client).SyncOutbound(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("SyncOutbound error: %v", err)
	}
	if settings.AccessToken != "new-token" {
		t.Fatalf("access token = %q, want new-token", settings.AccessToken)
	}
	if !saved {
		t.Fatalf("refreshed credentials must be persisted")
	}
}

func TestSyncOutbound_FailedRefreshAbortsBatch(t *testing.T) {
	settings := freshSettings()
	settings.TokenExpiresAt = syncNow.Add(-time.Minute)

	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error { return nil },
	}
	client := &fakeClient{
		refreshTokenFn: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			return nil, errors.New("invalid_grant")
		},
	}

	_, err := newTestReconciler(&fakeApptRepo{}, settingsRepo, client).SyncOutbound(context.Background(), "prov-1")
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if settings.LastSyncStatus != domain.SyncStatusError {
		t.Fatalf("last sync status = %s, want error", settings.LastSyncStatus)
	}
	if settings.LastSyncError == "" {
		t.Fatalf("last sync error must record the failure")
	}
}

func TestSyncOutbound_AuthExpiryMidBatchStopsRemainingCalls(t *testing.T) {
	settings := freshSettings()
	first, second, third := syncAppt(uuid.New(), ""), syncAppt(uuid.New(), ""), syncAppt(uuid.New(), "")

	calls := 0
	appts := &fakeApptRepo{
		listForSyncWindowFn: func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
			return []domain.Appointment{first, second, third}, nil
		},
		setSyncMetadataFn: func(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error {
			return nil
		},
	}
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error { return nil },
	}
	client := &fakeClient{
		createEventFn: func(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) (string, error) {
			calls++
			if calls == 1 {
				return "ev-1", nil
			}
			return "", ErrAuthExpired
		},
	}

	report, err := newTestReconciler(appts, settingsRepo, client).SyncOutbound(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("SyncOutbound error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("provider calls = %d, want 2 (batch aborted on auth expiry)", calls)
	}
	if report.Synced != 1 || len(report.Errors) != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestSyncOutbound_CollectsPerAppointmentErrors(t *testing.T) {
	settings := freshSettings()
	failing, ok := syncAppt(uuid.New(), ""), syncAppt(uuid.New(), "")

	appts := &fakeApptRepo{
		listForSyncWindowFn: func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
			return []domain.Appointment{failing, ok}, nil
		},
		listCancelledSyncedFn: noCancelled,
		setSyncMetadataFn: func(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error {
			return nil
		},
	}
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error { return nil },
	}
	// The two appointments are identical on the wire, so key the failure
	// off call order.
	calls := 0
	client := &fakeClient{
		createEventFn: func(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("quota exceeded")
			}
			return "ev-2", nil
		},
	}

	report, err := newTestReconciler(appts, settingsRepo, client).SyncOutbound(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("SyncOutbound error: %v", err)
	}
	if report.Synced != 1 {
		t.Fatalf("synced = %d, want 1", report.Synced)
	}
	if len(report.Errors) != 1 || report.Errors[0].AppointmentID != failing.ID {
		t.Fatalf("errors = %+v", report.Errors)
	}
	if settings.LastSyncStatus != domain.SyncStatusError {
		t.Fatalf("partial failure must record an error outcome")
	}
}

func TestSyncOutbound_AutoCreateDisabledSkipsUncorrelated(t *testing.T) {
	settings := freshSettings()
	settings.AutoCreate = false

	appts := &fakeApptRepo{
		listForSyncWindowFn: func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
			return []domain.Appointment{syncAppt(uuid.New(), "")}, nil
		},
		listCancelledSyncedFn: noCancelled,
	}
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error { return nil },
	}

	report, err := newTestReconciler(appts, settingsRepo, &fakeClient{}).SyncOutbound(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("SyncOutbound error: %v", err)
	}
	if report.Synced != 0 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v, want all skipped", report)
	}
}

func TestSyncOutbound_RemovesEventsForCancelledAppointments(t *testing.T) {
	settings := freshSettings()
	cancelled := syncAppt(uuid.New(), "ev-dead")
	cancelled.Status = domain.StatusCancelledByPatient

	var cleared bool
	appts := &fakeApptRepo{
		listForSyncWindowFn: func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
			return nil, nil
		},
		listCancelledSyncedFn: func(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
			return []domain.Appointment{cancelled}, nil
		},
		clearSyncMetadataFn: func(ctx context.Context, id uuid.UUID) error {
			if id != cancelled.ID {
				t.Fatalf("cleared id = %s, want %s", id, cancelled.ID)
			}
			cleared = true
			return nil
		},
	}
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error { return nil },
	}
	var deletedEventID string
	client := &fakeClient{
		deleteEventFn: func(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error {
			deletedEventID = eventID
			return nil
		},
	}

	report, err := newTestReconciler(appts, settingsRepo, client).SyncOutbound(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("SyncOutbound error: %v", err)
	}
	if report.Removed != 1 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if deletedEventID != "ev-dead" {
		t.Fatalf("deleted event = %q, want ev-dead", deletedEventID)
	}
	if !cleared {
		t.Fatalf("correlation must be cleared after removal")
	}
}

func TestSyncInbound_ImportsOnlyUncorrelatedEvents(t *testing.T) {
	settings := freshSettings()

	known := "ev-known"
	var inserted []*domain.Appointment
	appts := &fakeApptRepo{
		findByExternalEventIDFn: func(ctx context.Context, providerID, externalEventID string) (*domain.Appointment, error) {
			if externalEventID == known {
				appt := syncAppt(uuid.New(), known)
				return &appt, nil
			}
			return nil, store.ErrNotFound
		},
		insertFn: func(ctx context.Context, appt *domain.Appointment) error {
			inserted = append(inserted, appt)
			return nil
		},
	}
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
		saveFn: func(ctx context.Context, s *domain.CalendarSyncSettings) error { return nil },
	}
	client := &fakeClient{
		listEventsFn: func(ctx context.Context, token *oauth2.Token, calendarID string, timeMin, timeMax time.Time) ([]Event, error) {
			start := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
			return []Event{
				{ID: known, Title: "Already here", Start: start, End: start.Add(30 * time.Minute)},
				{ID: "ev-new", Title: "External meeting", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
				{ID: "", Title: "no id", Start: start, End: start.Add(time.Minute)},
			}, nil
		},
	}

	report, err := newTestReconciler(appts, settingsRepo, client).SyncInbound(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("SyncInbound error: %v", err)
	}
	if report.Imported != 1 {
		t.Fatalf("imported = %d, want 1", report.Imported)
	}
	if len(inserted) != 1 {
		t.Fatalf("inserted = %d rows", len(inserted))
	}

	got := inserted[0]
	if got.ExternalEventID == nil || *got.ExternalEventID != "ev-new" {
		t.Fatalf("external event id = %v", got.ExternalEventID)
	}
	if !got.ExternallySourced {
		t.Fatalf("imported appointments must be marked externally sourced")
	}
	if got.DurationMinutes != 60 {
		t.Fatalf("duration = %d, want 60", got.DurationMinutes)
	}
	if got.StartTime != "10:00" {
		t.Fatalf("start time = %q, want 10:00", got.StartTime)
	}
	if got.PatientID != "" {
		t.Fatalf("imported appointments have no local patient, got %q", got.PatientID)
	}
}

func TestSyncInbound_DirectionGate(t *testing.T) {
	settings := freshSettings()
	settings.Direction = domain.SyncToExternal
	settingsRepo := &fakeSettingsRepo{
		getByProviderFn: func(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
			return settings, nil
		},
	}

	_, err := newTestReconciler(&fakeApptRepo{}, settingsRepo, &fakeClient{}).SyncInbound(context.Background(), "prov-1")
	if !errors.Is(err, ErrInboundDisabled) {
		t.Fatalf("err = %v, want ErrInboundDisabled", err)
	}
}

func TestWithRetry_RetriesOnlyProviderUnavailable(t *testing.T) {
	r := newTestReconciler(&fakeApptRepo{}, &fakeSettingsRepo{}, &fakeClient{})

	calls := 0
	err := r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return ErrProviderUnavailable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	calls = 0
	permanent := errors.New("event not found")
	err = r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, permanent errors must not be retried", calls)
	}
}
