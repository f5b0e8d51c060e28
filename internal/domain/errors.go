package domain

import "errors"

var (
	// ErrValidation marks malformed input caught before any side effect.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a lookup miss on a persisted entity.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a state transition the current state does not allow.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateFire marks a fire-guard uniqueness violation. Callers treat
	// it as "already fired", never as a failure.
	ErrDuplicateFire = errors.New("duplicate fire")
)
