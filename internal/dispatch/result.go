package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/command"
)

// Outcome is the terminal state of one invocation.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeUnrecognized     Outcome = "unrecognized"
	OutcomeMalformed        Outcome = "malformed_output"
	OutcomeGrammarViolation Outcome = "grammar_violation"
	OutcomeUnresolved       Outcome = "unresolved"
	OutcomeNoVerb           Outcome = "no_verb"
	OutcomeDispatchFailed   Outcome = "dispatch_failed"
	OutcomeInferenceFailed  Outcome = "inference_failed"
)

// OutcomeOf classifies an invocation error.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, command.ErrUnrecognized):
		return OutcomeUnrecognized
	case errors.Is(err, command.ErrMalformedOutput):
		return OutcomeMalformed
	case errors.Is(err, command.ErrGrammarViolation):
		return OutcomeGrammarViolation
	case errors.Is(err, ErrUnresolved):
		return OutcomeUnresolved
	case errors.Is(err, ErrNoVerb):
		return OutcomeNoVerb
	case errors.Is(err, ErrDispatchFailed):
		return OutcomeDispatchFailed
	default:
		return OutcomeInferenceFailed
	}
}

// Timings records how long each stage of an invocation took.
type Timings struct {
	Grammar   time.Duration
	Inference time.Duration
	Parse     time.Duration
	Resolve   time.Duration
	Backend   time.Duration
	Total     time.Duration
}

// Stages returns the non-zero stages keyed by name.
func (t Timings) Stages() map[string]time.Duration {
	out := make(map[string]time.Duration, 6)
	for name, d := range map[string]time.Duration{
		"grammar":   t.Grammar,
		"inference": t.Inference,
		"parse":     t.Parse,
		"resolve":   t.Resolve,
		"backend":   t.Backend,
		"total":     t.Total,
	} {
		if d > 0 {
			out[name] = d
		}
	}
	return out
}

// MarshalJSON renders stages as fractional milliseconds.
func (t Timings) MarshalJSON() ([]byte, error) {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return json.Marshal(map[string]float64{
		"grammar_ms":   ms(t.Grammar),
		"inference_ms": ms(t.Inference),
		"parse_ms":     ms(t.Parse),
		"resolve_ms":   ms(t.Resolve),
		"backend_ms":   ms(t.Backend),
		"total_ms":     ms(t.Total),
	})
}

// Result describes one invocation, successful or not.
type Result struct {
	ID              string           `json:"id"`
	Topic           string           `json:"topic,omitempty"`
	Backend         string           `json:"backend"`
	Prompt          string           `json:"prompt,omitempty"`
	RawOutput       string           `json:"raw_output,omitempty"`
	GrammarRevision uint64           `json:"grammar_revision"`
	Command         *command.Command `json:"command,omitempty"`
	DeviceID        string           `json:"device_id,omitempty"`
	MappingSource   MappingSource    `json:"mapping_source,omitempty"`
	Verb            *backend.Verb    `json:"verb,omitempty"`
	Response        json.RawMessage  `json:"response,omitempty"`
	Outcome         Outcome          `json:"outcome"`
	Cause           Cause            `json:"cause,omitempty"`
	Error           string           `json:"error,omitempty"`
	Timings         Timings          `json:"timings"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
}

// Success reports whether the backend accepted the action.
func (r *Result) Success() bool { return r.Outcome == OutcomeSuccess }

// Finish records err and the completion time on r.
func (r *Result) Finish(err error, now time.Time) {
	r.Outcome = OutcomeOf(err)
	if err != nil {
		r.Error = err.Error()
		var de *DispatchError
		if errors.As(err, &de) {
			r.Cause = de.Cause
		}
	}
	r.CompletedAt = now
	r.Timings.Total = now.Sub(r.StartedAt)
}

// NewInvocationID returns a sortable unique invocation ID.
func NewInvocationID() string {
	return ulid.Make().String()
}
