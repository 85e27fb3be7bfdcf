package event

import (
	"testing"
	"time"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"document generated", TypeDocumentGenerated, true},
		{"document failed", TypeDocumentFailed, true},
		{"trigger status changed", TypeTriggerStatusChanged, true},
		{"admin action", TypeAdminActionRecorded, true},
		{"unknown", Type("instance.created"), false},
		{"empty", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	evt := NewEvent(TypeTriggerStatusChanged, "workflow_trigger", "t-1", map[string]interface{}{"status": "completed"})

	if evt.ID == "" {
		t.Error("expected generated ID")
	}
	if evt.CorrelationID != evt.ID {
		t.Errorf("CorrelationID = %s, want %s", evt.CorrelationID, evt.ID)
	}
	if evt.Timestamp.Before(before) {
		t.Error("timestamp should not precede creation")
	}
	if evt.EntityID != "t-1" {
		t.Errorf("EntityID = %s, want t-1", evt.EntityID)
	}
}

func TestNewEventWithCorrelation(t *testing.T) {
	evt := NewEventWithCorrelation(TypeDocumentGenerated, "document", "d-1", nil, "corr-1")
	if evt.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %s, want corr-1", evt.CorrelationID)
	}

	fallback := NewEventWithCorrelation(TypeDocumentGenerated, "document", "d-1", nil, "")
	if fallback.CorrelationID != fallback.ID {
		t.Error("empty correlation should fall back to the event ID")
	}
}

func TestEvent_PayloadGetters(t *testing.T) {
	evt := NewEvent(TypeDocumentGenerated, "document", "d-1", map[string]interface{}{
		"digest":   "abc",
		"size":     float64(42),
		"retries":  3,
		"verified": true,
	})

	if got := evt.GetPayloadString("digest"); got != "abc" {
		t.Errorf("GetPayloadString() = %v, want abc", got)
	}
	if got := evt.GetPayloadInt("size"); got != 42 {
		t.Errorf("GetPayloadInt(size) = %v, want 42", got)
	}
	if got := evt.GetPayloadInt("retries"); got != 3 {
		t.Errorf("GetPayloadInt(retries) = %v, want 3", got)
	}
	if !evt.GetPayloadBool("verified") {
		t.Error("GetPayloadBool(verified) = false, want true")
	}
	if got := evt.GetPayloadString("missing"); got != "" {
		t.Errorf("GetPayloadString(missing) = %v, want empty", got)
	}
}
