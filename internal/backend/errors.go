package backend

import "errors"

// Domain errors for the backend package.
var (
	// ErrUnknownType is returned when no factory is registered for a backend type.
	ErrUnknownType = errors.New("backend: unknown type")

	// ErrRejected is returned when the backend refused an action.
	ErrRejected = errors.New("backend: action rejected")

	// ErrUnavailable is returned when the backend could not be reached.
	ErrUnavailable = errors.New("backend: unavailable")

	// ErrMissingDependency is returned when a factory needs a dependency
	// that was not supplied.
	ErrMissingDependency = errors.New("backend: missing dependency")
)
