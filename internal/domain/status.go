package domain

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled          Status = "scheduled"
	StatusConfirmedByPatient Status = "confirmed_by_patient"
	StatusCompleted          Status = "completed"
	StatusCancelledByClinic  Status = "cancelled_by_clinic"
	StatusCancelledByPatient Status = "cancelled_by_patient"
	StatusNoShow             Status = "no_show"
)

func InitialStatus() Status {
	return StatusScheduled
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmedByPatient, StatusCompleted,
		StatusCancelledByClinic, StatusCancelledByPatient, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether the status permits no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledByClinic, StatusCancelledByPatient, StatusNoShow:
		return true
	}
	return false
}

// Cancelled reports whether the appointment no longer occupies its slot.
// No-shows are included: the slot was never used and must not block
// availability or be mirrored outward.
func (s Status) Cancelled() bool {
	switch s {
	case StatusCancelledByClinic, StatusCancelledByPatient, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a legal lifecycle move.
// Any non-terminal status may move to any other valid status; terminal
// statuses permit nothing. This permissiveness is intentional: the
// clinic UI offers free status reassignment on non-terminal rows.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	return from != to
}

// CancelActor identifies who requested a cancellation.
type CancelActor string

const (
	CancelledByClinic  CancelActor = "clinic"
	CancelledByPatient CancelActor = "patient"
)

// Status maps the actor to its cancellation status.
func (a CancelActor) Status() (Status, bool) {
	switch a {
	case CancelledByClinic:
		return StatusCancelledByClinic, true
	case CancelledByPatient:
		return StatusCancelledByPatient, true
	}
	return "", false
}
