package workflow

// StateMachine tracks the state of one trigger and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the signal is configured for the current state
	CanFire(signal Signal) bool

	// Fire applies the first transition whose guard accepts the subject
	Fire(signal Signal) error

	// PermittedSignals returns all signals configured for the current state
	PermittedSignals() []Signal
}
