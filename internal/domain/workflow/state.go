package workflow

import "github.com/garyjia/taxcredit-docflow/internal/domain/entity"

// State is a WorkflowTrigger lifecycle state
type State string

const (
	StatePending   State = entity.TriggerStatusPending
	StateTriggered State = entity.TriggerStatusTriggered
	StateCompleted State = entity.TriggerStatusCompleted
	StateFailed    State = entity.TriggerStatusFailed
	StateTimeout   State = entity.TriggerStatusTimeout
)

// IsTerminal returns true if no further transitions are allowed from s
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimeout:
		return true
	}
	return false
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if s is a known trigger state
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateTriggered:
		return true
	}
	return s.IsTerminal()
}
