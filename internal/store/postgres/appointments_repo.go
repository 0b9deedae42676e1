package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"medbook/backend/internal/domain"
	"medbook/backend/internal/store"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

// InsertValidated is the primary write path: it serializes concurrent
// bookings for the same provider/date on an advisory lock, re-checks the
// overlap invariant against committed rows inside the transaction and
// only then inserts. This transaction is the linearization point for
// the no-double-booking invariant.
func (r *AppointmentRepo) InsertValidated(ctx context.Context, appt *domain.Appointment) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderDay(ctx, tx, appt.ProviderID, appt.Date); err != nil {
			return err
		}

		target, err := appt.Interval(time.UTC)
		if err != nil {
			return err
		}

		var existing []domain.Appointment
		err = tx.NewSelect().
			Model(&existing).
			Where("provider_id = ?", appt.ProviderID).
			Where("appointment_date = ?", appt.Date).
			Where("status NOT IN (?)", bun.In(cancelledStatuses())).
			Scan(ctx)
		if err != nil {
			return err
		}
		for i := range existing {
			span, err := existing[i].Interval(time.UTC)
			if err != nil {
				continue
			}
			if target.Overlaps(span) {
				return store.ErrConflict
			}
		}

		_, err = tx.NewInsert().Model(appt).Exec(ctx)
		return err
	})
	return mapWriteError(err)
}

// Insert is the degraded direct path. No lock, no in-database
// re-validation; the caller is expected to have run the client-side
// checks it can.
func (r *AppointmentRepo) Insert(ctx context.Context, appt *domain.Appointment) error {
	_, err := r.db.NewInsert().Model(appt).Exec(ctx)
	return mapWriteError(err)
}

func (r *AppointmentRepo) Update(ctx context.Context, appt *domain.Appointment) error {
	res, err := r.db.NewUpdate().
		Model(appt).
		WherePK().
		Exec(ctx)
	if err != nil {
		return mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	appt := new(domain.Appointment)
	err := r.db.NewSelect().
		Model(appt).
		Relation("Provider").
		Relation("Patient").
		Relation("Clinic").
		Where("a.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return appt, nil
}

func (r *AppointmentRepo) List(ctx context.Context, f store.Filter) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := r.db.NewSelect().Model(&rows)

	if f.ProviderID != "" {
		q = q.Where("provider_id = ?", f.ProviderID)
	}
	if f.PatientID != "" {
		q = q.Where("patient_id = ?", f.PatientID)
	}
	if f.ClinicID != "" {
		q = q.Where("clinic_id = ?", f.ClinicID)
	}
	if f.DateFrom != nil {
		q = q.Where("appointment_date >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("appointment_date <= ?", *f.DateTo)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(f.Statuses))
	}
	if len(f.Types) > 0 {
		q = q.Where("appointment_type IN (?)", bun.In(f.Types))
	}
	if f.TextSearch != "" {
		pattern := "%" + f.TextSearch + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("title ILIKE ?", pattern).
				WhereOr("description ILIKE ?", pattern).
				WhereOr("notes ILIKE ?", pattern)
		})
	}

	err := q.
		OrderExpr("appointment_date ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) ListForProviderDay(ctx context.Context, providerID string, date time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("appointment_date = ?", date).
		Where("status NOT IN (?)", bun.In(cancelledStatuses())).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) ListForSyncWindow(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("sync_enabled").
		Where("appointment_date >= ?", from).
		Where("appointment_date <= ?", to).
		Where("status NOT IN (?)", bun.In(cancelledStatuses())).
		OrderExpr("appointment_date ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) ListCancelledSynced(ctx context.Context, providerID string, from, to time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("appointment_date >= ?", from).
		Where("appointment_date <= ?", to).
		Where("status IN (?)", bun.In(cancelledStatuses())).
		Where("external_event_id IS NOT NULL").
		OrderExpr("appointment_date ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) SetSyncMetadata(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("external_event_id = ?", externalEventID).
		Set("last_synced_at = ?", syncedAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepo) ClearSyncMetadata(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("external_event_id = NULL").
		Set("last_synced_at = ?", time.Now().UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *AppointmentRepo) FindByExternalEventID(ctx context.Context, providerID, externalEventID string) (*domain.Appointment, error) {
	appt := new(domain.Appointment)
	err := r.db.NewSelect().
		Model(appt).
		Where("provider_id = ?", providerID).
		Where("external_event_id = ?", externalEventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return appt, nil
}

func lockProviderDay(ctx context.Context, tx bun.Tx, providerID string, date time.Time) error {
	key := providerID + ":" + date.Format(domain.DateLayout)
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx)
	return err
}

func cancelledStatuses() []domain.Status {
	return []domain.Status{
		domain.StatusCancelledByClinic,
		domain.StatusCancelledByPatient,
		domain.StatusNoShow,
	}
}

// mapWriteError classifies write failures. An error the server itself
// reported (a PgError) is passed through: it is either a business
// outcome already mapped to a sentinel or a bug worth surfacing as-is.
// Anything else means the statement may never have reached the server,
// so it is wrapped as ErrUnavailable to let the caller pick a fallback.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Exclusion constraint backs the overlap invariant at the
		// schema level as well.
		if pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
			return store.ErrConflict
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
