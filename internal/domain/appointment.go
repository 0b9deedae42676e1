package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AppointmentType classifies the visit.
type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeCheckUp      AppointmentType = "check_up"
	TypeProcedure    AppointmentType = "procedure"
	TypeEmergency    AppointmentType = "emergency"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeCheckUp, TypeProcedure, TypeEmergency:
		return true
	}
	return false
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments,alias:a"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID string    `bun:"provider_id,notnull"`
	PatientID  string    `bun:"patient_id,nullzero"`
	ClinicID   string    `bun:"clinic_id,nullzero"`

	Date            time.Time       `bun:"appointment_date,notnull"`
	StartTime       string          `bun:"start_time,notnull"`
	DurationMinutes int             `bun:"duration_minutes,notnull"`
	Type            AppointmentType `bun:"appointment_type,notnull"`
	Status          Status          `bun:"status,notnull"`

	Title       string `bun:"title"`
	Description string `bun:"description"`
	Location    string `bun:"location"`
	Notes       string `bun:"notes"`

	// Calendar sync correlation. A nil ExternalEventID means the
	// appointment has never been mirrored to the provider's calendar.
	ExternalEventID   *string    `bun:"external_event_id"`
	SyncEnabled       bool       `bun:"sync_enabled,notnull,default:true"`
	ExternallySourced bool       `bun:"externally_sourced,notnull,default:false"`
	LastSyncedAt      *time.Time `bun:"last_synced_at"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`

	Provider *Provider `bun:"rel:belongs-to,join:provider_id=id"`
	Patient  *Patient  `bun:"rel:belongs-to,join:patient_id=id"`
	Clinic   *Clinic   `bun:"rel:belongs-to,join:clinic_id=id"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// Interval is the booked [start, start+duration) window in loc.
func (a *Appointment) Interval(loc *time.Location) (TimeRange, error) {
	start, err := CombineDateTime(a.Date.Format(DateLayout), a.StartTime, loc)
	if err != nil {
		return TimeRange{}, err
	}
	return NewTimeRange(start, time.Duration(a.DurationMinutes)*time.Minute), nil
}

// Provider, Patient and Clinic are read-only projections joined onto
// appointment reads so callers always observe the full booked shape.
type Provider struct {
	bun.BaseModel `bun:"table:providers"`

	ID        string `bun:"id,pk"`
	FullName  string `bun:"full_name"`
	Specialty string `bun:"specialty"`
	Email     string `bun:"email"`
}

type Patient struct {
	bun.BaseModel `bun:"table:patients"`

	ID       string `bun:"id,pk"`
	FullName string `bun:"full_name"`
	Email    string `bun:"email"`
	Phone    string `bun:"phone"`
}

type Clinic struct {
	bun.BaseModel `bun:"table:clinics"`

	ID      string `bun:"id,pk"`
	Name    string `bun:"name"`
	Address string `bun:"address"`
}

// ConflictReason codes returned by availability checks.
type ConflictReason string

const (
	ConflictPastDate ConflictReason = "past_date"
	ConflictOverlap  ConflictReason = "overlap"
)

// ConflictDetail describes why a candidate slot cannot be booked.
type ConflictDetail struct {
	Reason  ConflictReason `json:"reason"`
	Message string         `json:"message"`

	// Set when Reason is ConflictOverlap.
	AppointmentID uuid.UUID `json:"appointment_id,omitempty"`
	Title         string    `json:"title,omitempty"`
	Range         TimeRange `json:"range,omitempty"`
}
