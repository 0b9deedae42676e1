package store

import (
	"context"

	"medbook/backend/internal/domain"
)

type SyncSettingsRepository interface {
	GetByProvider(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error)
	Save(ctx context.Context, settings *domain.CalendarSyncSettings) error

	// ListProviderIDs returns every provider with a calendar binding,
	// used by the periodic sync loop.
	ListProviderIDs(ctx context.Context) ([]string, error)
}
