package entity

import "time"

// WorkflowTrigger tracks one handoff of a generation event to the external
// automation engine, from dispatch until a terminal outcome.
type WorkflowTrigger struct {
	ID              string     `json:"id"`
	SourceFormID    string     `json:"source_form_id"`
	DocumentID      string     `json:"document_id,omitempty"`
	ParentTriggerID string     `json:"parent_trigger_id,omitempty"`
	ExecutionID     string     `json:"execution_id,omitempty"`
	ScenarioID      string     `json:"scenario_id,omitempty"`
	Payload         string     `json:"payload"`
	Status          string     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	TimeoutAt       *time.Time `json:"timeout_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	ResponseData    string     `json:"response_data,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the trigger reached completed, failed or timeout.
func (t *WorkflowTrigger) IsTerminal() bool {
	switch t.Status {
	case TriggerStatusCompleted, TriggerStatusFailed, TriggerStatusTimeout:
		return true
	}
	return false
}

// Clone returns a copy that can be mutated without touching the original.
func (t *WorkflowTrigger) Clone() *WorkflowTrigger {
	c := *t
	if t.NextRetryAt != nil {
		v := *t.NextRetryAt
		c.NextRetryAt = &v
	}
	if t.TimeoutAt != nil {
		v := *t.TimeoutAt
		c.TimeoutAt = &v
	}
	return &c
}
