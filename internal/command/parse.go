package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/nerrad567/gray-logic-voice/internal/grammar"
)

// rawCommand distinguishes absent fields from empty ones.
type rawCommand struct {
	Action     *string  `json:"action"`
	DeviceType *string  `json:"device_type"`
	Location   *string  `json:"location"`
	Value      *float64 `json:"value"`
}

// Parse extracts a Command from engine output and validates it against doc.
//
// Returns:
//   - ErrMalformedOutput when no command object can be read
//   - ErrUnrecognized for the noop sentence
//   - *ViolationError (ErrGrammarViolation) for terms outside doc
func Parse(raw string, doc *grammar.Document) (Command, error) {
	obj, ok := extractObject(raw)
	if !ok {
		return Command{}, fmt.Errorf("%w: no JSON object in output", ErrMalformedOutput)
	}

	var rc rawCommand
	if err := unmarshalJSON(obj, &rc); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	if rc.Action != nil && *rc.Action == grammar.NoopAction {
		return Command{}, ErrUnrecognized
	}

	var missing []string
	if rc.Action == nil || *rc.Action == "" {
		missing = append(missing, "action")
	}
	if rc.DeviceType == nil || *rc.DeviceType == "" {
		missing = append(missing, "device_type")
	}
	if rc.Location == nil || *rc.Location == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return Command{}, fmt.Errorf("%w: missing %s", ErrMalformedOutput, strings.Join(missing, ", "))
	}

	cmd := Command{
		Action:          *rc.Action,
		DeviceType:      *rc.DeviceType,
		Location:        *rc.Location,
		Value:           rc.Value,
		GrammarRevision: doc.Revision,
	}
	if err := Validate(cmd, doc); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks that every term of cmd is in the scope of doc.
func Validate(cmd Command, doc *grammar.Document) error {
	violation := func(field, value string) error {
		return &ViolationError{Field: field, Value: value, Revision: doc.Revision}
	}

	scope := doc.Scope
	if !scope.HasType(cmd.DeviceType) {
		return violation("device_type", cmd.DeviceType)
	}
	if !scope.Allows(cmd.DeviceType, cmd.Location) {
		return violation("location", cmd.Location)
	}
	kind, ok := scope.Action(cmd.DeviceType, cmd.Action)
	if !ok {
		return violation("action", cmd.Action)
	}

	switch {
	case kind == grammar.ValueNone && cmd.Value != nil:
		return violation("value", formatValue(cmd.Value))
	case kind != grammar.ValueNone && cmd.Value == nil:
		return violation("value", "")
	case kind != grammar.ValueNone && !kind.Accepts(*cmd.Value):
		return violation("value", formatValue(cmd.Value))
	}
	return nil
}

func formatValue(v *float64) string {
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// extractObject returns the first JSON object in s, tolerating surrounding
// prose and code fences. A missing closing brace is left for repair.
func extractObject(s string) ([]byte, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}
	s = s[start:]

	depth, inString, escaped := 0, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return []byte(s[:i+1]), true
			}
		}
	}
	return []byte(strings.TrimRight(strings.TrimSpace(s), "`")), true
}

// unmarshalJSON unmarshals data into v. On a syntax error it repairs the
// JSON and retries once.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
