package command

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nerrad567/gray-logic-voice/internal/device"
)

// Command is the canonical form of one grammar-conformant utterance.
type Command struct {
	Action     string   `json:"action"`
	DeviceType string   `json:"device_type"`
	Location   string   `json:"location"`
	Value      *float64 `json:"value,omitempty"`

	// GrammarRevision is the revision of the document the command was
	// validated against.
	GrammarRevision uint64 `json:"grammar_revision"`
}

// Pair returns the command's (device type, location) pair.
func (c Command) Pair() device.Pair {
	return device.Pair{DeviceType: c.DeviceType, Location: c.Location}
}

func (c Command) String() string {
	s := c.Action + " " + c.Pair().String()
	if c.Value != nil {
		s += " value=" + strconv.FormatFloat(*c.Value, 'f', -1, 64)
	}
	return s
}

// Format renders the command in the sentence form the grammar accepts.
func Format(c Command) string {
	b, err := json.Marshal(struct {
		Action     string   `json:"action"`
		DeviceType string   `json:"device_type"`
		Location   string   `json:"location"`
		Value      *float64 `json:"value,omitempty"`
	}{c.Action, c.DeviceType, c.Location, c.Value})
	if err != nil {
		return fmt.Sprintf("<unformattable command: %v>", err)
	}
	return string(b)
}
