package device

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownVocabulary) {
//	    // reject the assignment
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnknownVocabulary is returned when assigning a device type or
	// location that has not been registered.
	ErrUnknownVocabulary = errors.New("device: unknown vocabulary")

	// ErrVocabularyExists is returned when adding a name that already exists
	// (after case normalisation).
	ErrVocabularyExists = errors.New("device: vocabulary entry already exists")

	// ErrInUse is returned when removing a vocabulary entry that a device references.
	ErrInUse = errors.New("device: vocabulary entry in use")

	// ErrMappingConflict marks two or more enabled devices sharing a
	// (device type, location) pair. It is reported, never fatal.
	ErrMappingConflict = errors.New("device: mapping conflict")

	// ErrInvalidName is returned when a vocabulary name is empty, too long
	// or contains control characters.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidKind is returned for a vocabulary kind other than device_type or location.
	ErrInvalidKind = errors.New("device: invalid vocabulary kind")

	// ErrRecordNotFound is returned by a Repository with no record for a backend.
	ErrRecordNotFound = errors.New("device: mapping record not found")

	// ErrStaleRecord is returned when persisting a record older than the stored one.
	ErrStaleRecord = errors.New("device: stale mapping record")
)

// ConflictError reports the conflicting pairs behind ErrMappingConflict.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("%s shared by %s", c.Pair, strings.Join(c.DeviceIDs, ", "))
	}
	return fmt.Sprintf("%s: %s", ErrMappingConflict, strings.Join(parts, "; "))
}

func (e *ConflictError) Unwrap() error { return ErrMappingConflict }

// InUseError names the devices still referencing a vocabulary entry.
type InUseError struct {
	Kind      VocabularyKind
	Name      string
	DeviceIDs []string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s: %s %q referenced by %s", ErrInUse, e.Kind, e.Name, strings.Join(e.DeviceIDs, ", "))
}

func (e *InUseError) Unwrap() error { return ErrInUse }
