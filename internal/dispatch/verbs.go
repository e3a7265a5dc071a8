package dispatch

import (
	"fmt"
	"maps"

	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

// VerbTable maps device type and action to a backend verb.
type VerbTable map[string]map[string]backend.Verb

// genericVerbs serve on/off for device types without their own entry.
var genericVerbs = map[string]backend.Verb{
	"on":  {Service: "homeassistant.turn_on"},
	"off": {Service: "homeassistant.turn_off"},
}

// DefaultVerbs returns Home Assistant services for the built-in profiles.
func DefaultVerbs() VerbTable {
	return VerbTable{
		"lights": {
			"on":          {Service: "light.turn_on"},
			"off":         {Service: "light.turn_off"},
			"dim":         {Service: "light.turn_on", Param: "brightness_pct", Fixed: 30},
			"set_percent": {Service: "light.turn_on", Param: "brightness_pct"},
		},
		"heating": {
			"on":              {Service: "climate.turn_on"},
			"off":             {Service: "climate.turn_off"},
			"set_temperature": {Service: "climate.set_temperature", Param: "temperature"},
		},
		"blinds": {
			"open":        {Service: "cover.open_cover"},
			"close":       {Service: "cover.close_cover"},
			"set_percent": {Service: "cover.set_cover_position", Param: "position"},
		},
		"media_player": {
			"play":   {Service: "media_player.media_play"},
			"pause":  {Service: "media_player.media_pause"},
			"stop":   {Service: "media_player.media_stop"},
			"volume": {Service: "media_player.volume_set", Param: "volume_level", Scale: 0.01},
		},
		"switch": {
			"on":  {Service: "switch.turn_on"},
			"off": {Service: "switch.turn_off"},
		},
	}
}

// WithOverrides returns a copy of t with configured verbs layered on top,
// action by action.
func (t VerbTable) WithOverrides(over map[string]map[string]config.VerbConfig) VerbTable {
	out := make(VerbTable, len(t)+len(over))
	for typ, actions := range t {
		out[typ] = maps.Clone(actions)
	}
	for typ, actions := range over {
		if out[typ] == nil {
			out[typ] = make(map[string]backend.Verb, len(actions))
		}
		for action, v := range actions {
			out[typ][action] = backend.Verb{Service: v.Service, Param: v.Param, Scale: v.Scale, Fixed: v.Fixed}
		}
	}
	return out
}

// Lookup returns the verb for an action of a device type.
func (t VerbTable) Lookup(deviceType, action string) (backend.Verb, error) {
	if v, ok := t[deviceType][action]; ok {
		return v, nil
	}
	if _, typed := t[deviceType]; !typed {
		if v, ok := genericVerbs[action]; ok {
			return v, nil
		}
	}
	return backend.Verb{}, fmt.Errorf("%w: %s %s", ErrNoVerb, deviceType, action)
}
