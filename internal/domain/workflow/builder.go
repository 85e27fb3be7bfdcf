package workflow

import (
	"fmt"

	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

// GuardFunc decides whether a transition applies to the given trigger
type GuardFunc func(t *entity.WorkflowTrigger) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build binds the configuration to a trigger, starting from its current status
	Build(subject *entity.WorkflowTrigger) (StateMachine, error)
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a signal to move to the target state
	Permit(signal Signal, toState State) StateConfiguration

	// PermitIf allows a signal to move to the target state when guard accepts the subject
	PermitIf(signal Signal, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

type stateConfig struct {
	transitions map[Signal][]transition
}

type stateMachineBuilder struct {
	configurations map[State]*stateConfig
}

type stateMachine struct {
	subject        *entity.WorkflowTrigger
	currentState   State
	configurations map[State]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if state.IsTerminal() {
		panic(fmt.Sprintf("terminal state cannot have transitions: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{transitions: make(map[Signal][]transition)}
		b.configurations[state] = config
	}
	return config
}

func (b *stateMachineBuilder) Build(subject *entity.WorkflowTrigger) (StateMachine, error) {
	initial := State(subject.Status)
	if !initial.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, subject.Status)
	}

	// Configurations are shared read-only after building.
	return &stateMachine{
		subject:        subject,
		currentState:   initial,
		configurations: b.configurations,
	}, nil
}

func (c *stateConfig) Permit(signal Signal, toState State) StateConfiguration {
	return c.PermitIf(signal, toState, nil)
}

func (c *stateConfig) PermitIf(signal Signal, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.transitions[signal] = append(c.transitions[signal], transition{toState: toState, guard: guard})
	return c
}

func (m *stateMachine) State() State {
	return m.currentState
}

func (m *stateMachine) CanFire(signal Signal) bool {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return false
	}
	return len(config.transitions[signal]) > 0
}

// Fire moves the machine and writes the new status onto the subject.
func (m *stateMachine) Fire(signal Signal) error {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, signal, m.currentState)
	}

	transitions := config.transitions[signal]
	if len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, signal, m.currentState)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(m.subject) {
			m.currentState = t.toState
			m.subject.Status = string(t.toState)
			return nil
		}
	}

	return fmt.Errorf("%w: %s from state %s", ErrGuardFailed, signal, m.currentState)
}

func (m *stateMachine) PermittedSignals() []Signal {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Signal{}
	}

	signals := make([]Signal, 0, len(config.transitions))
	for s := range config.transitions {
		signals = append(signals, s)
	}
	return signals
}
