package port

import "time"

// Metrics records service-level measurements
type Metrics interface {
	ObserveGeneration(documentType, outcome string, d time.Duration)
	IncDispatch(outcome string)
	IncTriggerTransition(toStatus string)
	IncAdminAction(action string, duplicate bool)
	IncAuditWriteFailure()
	SetActivePollers(n int)
}

// NopMetrics discards all measurements
type NopMetrics struct{}

func (NopMetrics) ObserveGeneration(string, string, time.Duration) {}
func (NopMetrics) IncDispatch(string)                              {}
func (NopMetrics) IncTriggerTransition(string)                     {}
func (NopMetrics) IncAdminAction(string, bool)                     {}
func (NopMetrics) IncAuditWriteFailure()                           {}
func (NopMetrics) SetActivePollers(int)                            {}

var _ Metrics = NopMetrics{}
