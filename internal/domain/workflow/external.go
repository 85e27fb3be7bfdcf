package workflow

import (
	"fmt"
	"strings"
)

// External status vocabulary reported by automation engines
const (
	ExternalPending = "pending"
	ExternalRunning = "running"
	ExternalSuccess = "success"
	ExternalError   = "error"
	ExternalWarning = "warning"
)

// externalStatusTable maps every known external status to the signal it raises.
// An empty signal means the execution is still in progress.
var externalStatusTable = map[string]Signal{
	ExternalPending: "",
	ExternalRunning: "",
	ExternalSuccess: SignalSucceeded,
	ExternalError:   SignalErrored,
	ExternalWarning: SignalSucceeded,
}

// Observation is one status report from the external engine
type Observation struct {
	Status  string
	Message string
	Raw     string
}

// MapExternalStatus translates an engine status into a signal. ok is false while
// the execution is still running.
func MapExternalStatus(status string) (signal Signal, ok bool, err error) {
	s, known := externalStatusTable[strings.ToLower(strings.TrimSpace(status))]
	if !known {
		return "", false, fmt.Errorf("%w: %q", ErrUnrecognizedExternalStatus, status)
	}
	return s, s != "", nil
}
