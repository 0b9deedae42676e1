package scheduling

import (
	"fmt"

	"medbook/backend/internal/domain"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// PastDateError is returned when the requested slot starts before now.
// Distinguished from ValidationError so callers can message it as a
// scheduling outcome rather than a malformed request.
type PastDateError struct {
	Detail domain.ConflictDetail
}

func (e *PastDateError) Error() string {
	return "appointment start is in the past"
}

// ConflictError carries the first colliding appointment found.
type ConflictError struct {
	Detail domain.ConflictDetail
}

func (e *ConflictError) Error() string {
	if e.Detail.Message != "" {
		return e.Detail.Message
	}
	return "schedule conflict"
}

// TransitionError is returned for illegal lifecycle moves.
type TransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}
