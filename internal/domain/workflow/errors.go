package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a signal is not permitted in the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a trigger carries an unknown state
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every guarded transition for a signal rejects it
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrUnrecognizedExternalStatus is returned for engine statuses outside the known vocabulary
	ErrUnrecognizedExternalStatus = errors.New("unrecognized external status")
)
