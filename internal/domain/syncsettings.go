package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// SyncDirection controls which way appointments flow between the
// internal store and the provider's external calendar.
type SyncDirection string

const (
	SyncToExternal    SyncDirection = "to_external"
	SyncFromExternal  SyncDirection = "from_external"
	SyncBidirectional SyncDirection = "bidirectional"
)

func (d SyncDirection) AllowsOutbound() bool {
	return d == SyncToExternal || d == SyncBidirectional
}

func (d SyncDirection) AllowsInbound() bool {
	return d == SyncFromExternal || d == SyncBidirectional
}

// SyncStatus is the aggregate outcome of the last sync batch.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// CalendarSyncSettings holds one provider's external calendar binding,
// credentials and sync bookkeeping. One row per provider.
type CalendarSyncSettings struct {
	bun.BaseModel `bun:"table:calendar_sync_settings"`

	ProviderID string `bun:"provider_id,pk"`
	CalendarID string `bun:"calendar_id,notnull"`

	AccessToken    string    `bun:"access_token"`
	RefreshToken   string    `bun:"refresh_token"`
	TokenExpiresAt time.Time `bun:"token_expires_at"`

	Direction       SyncDirection `bun:"direction,notnull,default:'bidirectional'"`
	AutoCreate      bool          `bun:"auto_create,notnull,default:true"`
	AutoUpdate      bool          `bun:"auto_update,notnull,default:true"`
	SyncHorizonDays int           `bun:"sync_horizon_days,notnull,default:30"`
	ReminderMinutes int           `bun:"reminder_minutes,notnull,default:30"`

	LastSyncStatus SyncStatus `bun:"last_sync_status,nullzero"`
	LastSyncAt     *time.Time `bun:"last_sync_at"`
	LastSyncError  string     `bun:"last_sync_error"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (s *CalendarSyncSettings) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

// TokenExpiringWithin reports whether the access token expires inside
// the safety window (or already has).
func (s *CalendarSyncSettings) TokenExpiringWithin(window time.Duration, now time.Time) bool {
	return !s.TokenExpiresAt.After(now.Add(window))
}
