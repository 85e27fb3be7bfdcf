package workflow

// Signal is an occurrence that may move a trigger to another state
type Signal string

const (
	SignalDispatched       Signal = "dispatched"
	SignalDispatchFailed   Signal = "dispatch_failed"
	SignalSucceeded        Signal = "succeeded"
	SignalErrored          Signal = "errored"
	SignalDeadlineExceeded Signal = "deadline_exceeded"
)

// String returns the string representation of the signal
func (s Signal) String() string {
	return string(s)
}
