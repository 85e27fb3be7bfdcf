package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

var t0 = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Delay(i+1), "retryCount=%d", i+1)
	}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 30*time.Second, b.Delay(200))
}

func TestPolicy_DispatchFailuresExhaustBudget(t *testing.T) {
	p := DefaultPolicy()
	trig := &entity.WorkflowTrigger{Status: entity.TriggerStatusPending, MaxRetries: 3}

	require.NoError(t, p.ApplyDispatchFailure(trig, errors.New("503"), t0))
	assert.Equal(t, entity.TriggerStatusPending, trig.Status)
	assert.Equal(t, 1, trig.RetryCount)
	require.NotNil(t, trig.NextRetryAt)
	assert.Equal(t, t0.Add(time.Second), *trig.NextRetryAt)

	require.NoError(t, p.ApplyDispatchFailure(trig, errors.New("503"), t0))
	assert.Equal(t, 2, trig.RetryCount)
	assert.Equal(t, t0.Add(2*time.Second), *trig.NextRetryAt)

	require.NoError(t, p.ApplyDispatchFailure(trig, errors.New("connection refused"), t0))
	assert.Equal(t, entity.TriggerStatusFailed, trig.Status)
	assert.Equal(t, 3, trig.RetryCount)
	assert.Nil(t, trig.NextRetryAt)
	assert.Equal(t, "connection refused", trig.LastError)

	err := p.ApplyDispatchFailure(trig, errors.New("again"), t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 3, trig.RetryCount)
}

func TestPolicy_ZeroRetryBudgetFailsImmediately(t *testing.T) {
	trig := &entity.WorkflowTrigger{Status: entity.TriggerStatusPending, MaxRetries: 0}

	require.NoError(t, DefaultPolicy().ApplyDispatchFailure(trig, errors.New("boom"), t0))
	assert.Equal(t, entity.TriggerStatusFailed, trig.Status)
	assert.Equal(t, 0, trig.RetryCount)
}

func TestPolicy_DispatchSuccessSetsDeadline(t *testing.T) {
	p := DefaultPolicy()
	next := t0.Add(time.Second)
	trig := &entity.WorkflowTrigger{Status: entity.TriggerStatusPending, MaxRetries: 3, RetryCount: 1, NextRetryAt: &next, LastError: "503"}

	require.NoError(t, p.ApplyDispatchSuccess(trig, DispatchOutcome{ExecutionID: "exec-1", ScenarioID: "wf"}, t0))

	assert.Equal(t, entity.TriggerStatusTriggered, trig.Status)
	assert.Equal(t, "exec-1", trig.ExecutionID)
	assert.Nil(t, trig.NextRetryAt)
	require.NotNil(t, trig.TimeoutAt)
	assert.Equal(t, t0.Add(15*time.Minute), *trig.TimeoutAt)
	assert.Empty(t, trig.LastError)
}

func triggered(deadline time.Time) *entity.WorkflowTrigger {
	return &entity.WorkflowTrigger{Status: entity.TriggerStatusTriggered, ExecutionID: "exec-1", TimeoutAt: &deadline, MaxRetries: 3}
}

func TestNewTriggerMachine_AllStates(t *testing.T) {
	for _, status := range []string{
		entity.TriggerStatusPending,
		entity.TriggerStatusTriggered,
		entity.TriggerStatusCompleted,
		entity.TriggerStatusFailed,
		entity.TriggerStatusTimeout,
	} {
		m, err := NewTriggerMachine(&entity.WorkflowTrigger{Status: status, MaxRetries: 3})
		require.NoError(t, err, status)
		assert.Equal(t, State(status), m.State())
		assert.Equal(t, State(status).IsTerminal(), len(m.PermittedSignals()) == 0, status)
	}

	_, err := NewTriggerMachine(&entity.WorkflowTrigger{Status: "paused"})
	assert.Error(t, err)

	m, err := NewTriggerMachine(&entity.WorkflowTrigger{Status: entity.TriggerStatusPending, MaxRetries: 3})
	require.NoError(t, err)
	assert.True(t, m.CanFire(SignalDispatched))
	require.NoError(t, m.Fire(SignalDispatched))
	assert.Equal(t, StateTriggered, m.State())
}

func TestPolicy_EvaluatePoll(t *testing.T) {
	p := DefaultPolicy()
	deadline := t0.Add(time.Minute)

	tests := []struct {
		name        string
		obs         *Observation
		now         time.Time
		wantStatus  string
		wantChanged bool
		wantErr     error
	}{
		{"running keeps state", &Observation{Status: "running"}, t0, entity.TriggerStatusTriggered, false, nil},
		{"pending keeps state", &Observation{Status: "pending"}, t0, entity.TriggerStatusTriggered, false, nil},
		{"success completes", &Observation{Status: "success"}, t0, entity.TriggerStatusCompleted, true, nil},
		{"error fails", &Observation{Status: "error", Message: "scenario crashed"}, t0, entity.TriggerStatusFailed, true, nil},
		{"warning completes", &Observation{Status: "warning", Message: "partial"}, t0, entity.TriggerStatusCompleted, true, nil},
		{"unknown status", &Observation{Status: "paused"}, t0, entity.TriggerStatusTriggered, false, ErrUnrecognizedExternalStatus},
		{"no observation before deadline", nil, t0, entity.TriggerStatusTriggered, false, nil},
		{"no observation after deadline", nil, deadline.Add(time.Second), entity.TriggerStatusTimeout, true, nil},
		{"success exactly at deadline completes", &Observation{Status: "success"}, deadline, entity.TriggerStatusCompleted, true, nil},
		{"timeout beats late success", &Observation{Status: "success"}, deadline.Add(time.Millisecond), entity.TriggerStatusTimeout, true, nil},
		{"timeout beats unknown status", &Observation{Status: "paused"}, deadline.Add(time.Hour), entity.TriggerStatusTimeout, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := triggered(deadline)
			res, err := p.EvaluatePoll(trig, tt.obs, tt.now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsUnrecognized(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, trig.Status)
			assert.Equal(t, tt.wantChanged, res.Changed)
		})
	}
}

func TestPolicy_EvaluatePollRecordsDetails(t *testing.T) {
	p := DefaultPolicy()
	deadline := t0.Add(time.Minute)

	failed := triggered(deadline)
	_, err := p.EvaluatePoll(failed, &Observation{Status: "error", Message: "step 3 failed", Raw: `{"state":"FAILED"}`}, t0)
	require.NoError(t, err)
	assert.Equal(t, "step 3 failed", failed.LastError)
	assert.Equal(t, `{"state":"FAILED"}`, failed.ResponseData)

	warned := triggered(deadline)
	_, err = p.EvaluatePoll(warned, &Observation{Status: "warning", Message: "email bounced"}, t0)
	require.NoError(t, err)
	assert.Equal(t, "warning: email bounced", warned.ResponseData)

	timedOut := triggered(deadline)
	_, err = p.EvaluatePoll(timedOut, nil, deadline)
	require.NoError(t, err)
	assert.Contains(t, timedOut.LastError, "did not finish")
}

func TestPolicy_EvaluatePollRejectsNonTriggered(t *testing.T) {
	trig := &entity.WorkflowTrigger{Status: entity.TriggerStatusCompleted}
	_, err := DefaultPolicy().EvaluatePoll(trig, &Observation{Status: "error"}, t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, entity.TriggerStatusCompleted, trig.Status)
}

func TestMapExternalStatus(t *testing.T) {
	s, ok, err := MapExternalStatus(" SUCCESS ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, SignalSucceeded, s)

	_, ok, err = MapExternalStatus("running")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = MapExternalStatus("")
	assert.ErrorIs(t, err, ErrUnrecognizedExternalStatus)
}
