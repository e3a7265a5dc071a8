package command

import (
	"errors"
	"fmt"
)

// Domain errors for the command package.
var (
	// ErrMalformedOutput is returned when engine output cannot be read as a command.
	ErrMalformedOutput = errors.New("command: malformed output")

	// ErrUnrecognized is returned for the noop sentence.
	ErrUnrecognized = errors.New("command: unrecognized")

	// ErrGrammarViolation is returned when a well-formed command uses terms
	// outside the active grammar.
	ErrGrammarViolation = errors.New("command: grammar violation")
)

// ViolationError names the field and value that fell outside the grammar.
type ViolationError struct {
	Field    string
	Value    string
	Revision uint64
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("command: grammar violation: %s %q not in grammar revision %d", e.Field, e.Value, e.Revision)
}

func (e *ViolationError) Unwrap() error { return ErrGrammarViolation }
