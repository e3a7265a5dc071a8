package homeassistant

import (
	"strings"

	"github.com/nerrad567/gray-logic-voice/internal/backend"
)

// controllable lists the domains voice commands can act on. Sensors and
// other read-only domains are skipped.
var controllable = map[string]bool{
	"light":         true,
	"switch":        true,
	"fan":           true,
	"input_boolean": true,
	"climate":       true,
	"cover":         true,
	"media_player":  true,
	"scene":         true,
}

func normalize(s haState) (backend.Entity, bool) {
	domain, _, ok := strings.Cut(s.EntityID, ".")
	if !ok || !controllable[domain] || s.State == "unavailable" {
		return backend.Entity{}, false
	}
	name, _ := s.Attributes["friendly_name"].(string)
	if name == "" {
		name = s.EntityID
	}
	return backend.Entity{ID: s.EntityID, Domain: domain, Name: name}, true
}
