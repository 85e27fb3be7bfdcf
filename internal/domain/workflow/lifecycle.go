package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

// DefaultTriggerTimeout bounds how long a triggered execution may run.
const DefaultTriggerTimeout = 15 * time.Minute

var (
	triggerDefinitionOnce sync.Once
	triggerDefinition     StateMachineBuilder
)

func triggerLifecycle() StateMachineBuilder {
	triggerDefinitionOnce.Do(func() {
		triggerDefinition = newTriggerDefinition()
	})
	return triggerDefinition
}

func newTriggerDefinition() StateMachineBuilder {
	b := NewBuilder()

	b.Configure(StatePending).
		Permit(SignalDispatched, StateTriggered).
		PermitIf(SignalDispatchFailed, StatePending, retryBudgetRemains).
		Permit(SignalDispatchFailed, StateFailed)

	b.Configure(StateTriggered).
		Permit(SignalSucceeded, StateCompleted).
		Permit(SignalErrored, StateFailed).
		Permit(SignalDeadlineExceeded, StateTimeout)

	return b
}

func retryBudgetRemains(t *entity.WorkflowTrigger) bool {
	return t.RetryCount < t.MaxRetries
}

// NewTriggerMachine binds the trigger lifecycle to t.
func NewTriggerMachine(t *entity.WorkflowTrigger) (StateMachine, error) {
	return triggerLifecycle().Build(t)
}

// Policy holds the retry and deadline parameters applied to triggers
type Policy struct {
	Backoff        Backoff
	TriggerTimeout time.Duration
}

// DefaultPolicy returns the default backoff and a 15 minute deadline
func DefaultPolicy() Policy {
	return Policy{Backoff: DefaultBackoff(), TriggerTimeout: DefaultTriggerTimeout}
}

// DispatchOutcome is what a successful engine dispatch returned
type DispatchOutcome struct {
	ExecutionID string
	ScenarioID  string
	Response    string
}

// ApplyDispatchSuccess moves a pending trigger to triggered and starts its deadline.
func (p Policy) ApplyDispatchSuccess(t *entity.WorkflowTrigger, out DispatchOutcome, now time.Time) error {
	m, err := NewTriggerMachine(t)
	if err != nil {
		return err
	}
	if err := m.Fire(SignalDispatched); err != nil {
		return err
	}

	deadline := now.Add(p.TriggerTimeout)
	t.ExecutionID = out.ExecutionID
	t.ScenarioID = out.ScenarioID
	t.ResponseData = out.Response
	t.NextRetryAt = nil
	t.TimeoutAt = &deadline
	t.LastError = ""
	t.UpdatedAt = now
	return nil
}

// ApplyDispatchFailure counts the failed attempt, then either schedules the next
// attempt or fails the trigger once the retry budget is spent.
func (p Policy) ApplyDispatchFailure(t *entity.WorkflowTrigger, cause error, now time.Time) error {
	if State(t.Status) != StatePending {
		return fmt.Errorf("%w: dispatch failure reported for %s trigger", ErrInvalidTransition, t.Status)
	}
	if t.RetryCount < t.MaxRetries {
		t.RetryCount++
	}

	m, err := NewTriggerMachine(t)
	if err != nil {
		return err
	}
	if err := m.Fire(SignalDispatchFailed); err != nil {
		return err
	}

	t.LastError = cause.Error()
	t.UpdatedAt = now
	if m.State() == StatePending {
		next := now.Add(p.Backoff.Delay(t.RetryCount))
		t.NextRetryAt = &next
	} else {
		t.NextRetryAt = nil
	}
	return nil
}

// PollResult describes what one poll evaluation did to a trigger
type PollResult struct {
	Changed bool
	Signal  Signal
}

// EvaluatePoll applies a poll observation to a triggered trigger. The deadline is
// checked first and wins over any observation. obs may be nil when the engine
// could not be queried.
func (p Policy) EvaluatePoll(t *entity.WorkflowTrigger, obs *Observation, now time.Time) (PollResult, error) {
	if State(t.Status) != StateTriggered {
		return PollResult{}, fmt.Errorf("%w: poll evaluated for %s trigger", ErrInvalidTransition, t.Status)
	}

	if t.TimeoutAt != nil && now.After(*t.TimeoutAt) {
		if err := p.fire(t, SignalDeadlineExceeded, now); err != nil {
			return PollResult{}, err
		}
		t.LastError = fmt.Sprintf("execution did not finish before %s", t.TimeoutAt.UTC().Format(time.RFC3339))
		if obs != nil && obs.Raw != "" {
			t.ResponseData = obs.Raw
		}
		return PollResult{Changed: true, Signal: SignalDeadlineExceeded}, nil
	}

	if obs == nil {
		return PollResult{}, nil
	}

	signal, terminal, err := MapExternalStatus(obs.Status)
	if err != nil {
		return PollResult{}, err
	}
	if !terminal {
		return PollResult{}, nil
	}

	if err := p.fire(t, signal, now); err != nil {
		return PollResult{}, err
	}
	if obs.Raw != "" {
		t.ResponseData = obs.Raw
	}
	switch {
	case signal == SignalErrored:
		t.LastError = obs.Message
		if t.LastError == "" {
			t.LastError = "external execution reported an error"
		}
	case strings.EqualFold(obs.Status, ExternalWarning) && obs.Message != "":
		t.ResponseData = "warning: " + obs.Message
	}
	return PollResult{Changed: true, Signal: signal}, nil
}

func (p Policy) fire(t *entity.WorkflowTrigger, s Signal, now time.Time) error {
	m, err := NewTriggerMachine(t)
	if err != nil {
		return err
	}
	if err := m.Fire(s); err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

// IsUnrecognized reports whether err came from an unknown external status.
func IsUnrecognized(err error) bool {
	return errors.Is(err, ErrUnrecognizedExternalStatus)
}
