package store

import "errors"

var (
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("store unavailable")
)
