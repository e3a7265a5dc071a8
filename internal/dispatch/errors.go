package dispatch

import (
	"errors"
	"fmt"
)

// Domain errors for the dispatch package.
var (
	// ErrUnresolved is returned when no strategy maps a command to a device.
	ErrUnresolved = errors.New("dispatch: no device for command")

	// ErrNoVerb is returned when no backend verb exists for an action.
	ErrNoVerb = errors.New("dispatch: no backend verb for action")

	// ErrDispatchFailed is returned when the backend call failed.
	ErrDispatchFailed = errors.New("dispatch: backend call failed")
)

// Cause classifies a backend failure.
type Cause string

const (
	CauseTimeout      Cause = "timeout"
	CauseRejected     Cause = "rejected"
	CauseConnectivity Cause = "connectivity"
	CauseError        Cause = "error"
)

// DispatchError is a failed backend call. It matches both
// ErrDispatchFailed and the underlying error.
type DispatchError struct {
	Cause         Cause
	DeviceID      string
	MappingSource MappingSource
	Err           error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: backend call for %s (%s) failed: %s: %v", e.DeviceID, e.MappingSource, e.Cause, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrDispatchFailed, e.Err} }
