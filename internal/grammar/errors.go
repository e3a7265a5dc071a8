package grammar

import "errors"

// Domain errors for the grammar package.
var (
	// ErrNotFound is returned when no stored grammar matches a hash.
	ErrNotFound = errors.New("grammar: document not found")

	// ErrInvalidValueKind is returned for an unknown action value kind.
	ErrInvalidValueKind = errors.New("grammar: invalid value kind")

	// ErrStoreClosed is returned when the store has been closed.
	ErrStoreClosed = errors.New("grammar: store closed")
)
