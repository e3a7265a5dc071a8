package topic

import (
	"fmt"
	"regexp"
	"time"
)

// State is a topic's lifecycle state.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateConfigured   State = "configured"
	StateEnabled      State = "enabled"
	StateDisabled     State = "disabled"
)

// Topic is a named {model, backend, grammar} pipeline.
type Topic struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Backend   string    `json:"backend"`
	Prompt    string    `json:"prompt,omitempty"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settings are the configurable fields of a topic.
type Settings struct {
	Model   string `json:"model"`
	Backend string `json:"backend"`
	Prompt  string `json:"prompt"`
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateID checks a topic ID: lowercase alphanumerics, dash and
// underscore, at most 64 characters.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: id %q must match %s", ErrInvalidTopic, id, idPattern)
	}
	return nil
}
