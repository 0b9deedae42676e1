package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"medbook/backend/internal/domain"
	"medbook/backend/internal/store"
)

type SyncSettingsRepo struct {
	db *bun.DB
}

func NewSyncSettingsRepo(db *bun.DB) *SyncSettingsRepo {
	return &SyncSettingsRepo{db: db}
}

func (r *SyncSettingsRepo) GetByProvider(ctx context.Context, providerID string) (*domain.CalendarSyncSettings, error) {
	settings := new(domain.CalendarSyncSettings)
	err := r.db.NewSelect().
		Model(settings).
		Where("provider_id = ?", providerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return settings, nil
}

func (r *SyncSettingsRepo) Save(ctx context.Context, settings *domain.CalendarSyncSettings) error {
	_, err := r.db.NewInsert().
		Model(settings).
		On("CONFLICT (provider_id) DO UPDATE").
		Set("calendar_id = EXCLUDED.calendar_id").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_expires_at = EXCLUDED.token_expires_at").
		Set("direction = EXCLUDED.direction").
		Set("auto_create = EXCLUDED.auto_create").
		Set("auto_update = EXCLUDED.auto_update").
		Set("sync_horizon_days = EXCLUDED.sync_horizon_days").
		Set("reminder_minutes = EXCLUDED.reminder_minutes").
		Set("last_sync_status = EXCLUDED.last_sync_status").
		Set("last_sync_at = EXCLUDED.last_sync_at").
		Set("last_sync_error = EXCLUDED.last_sync_error").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *SyncSettingsRepo) ListProviderIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.NewSelect().
		Model((*domain.CalendarSyncSettings)(nil)).
		Column("provider_id").
		OrderExpr("provider_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

var _ store.SyncSettingsRepository = (*SyncSettingsRepo)(nil)
