package grammar

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// ValueKind describes the value an action carries, if any.
type ValueKind string

const (
	ValueNone        ValueKind = "none"
	ValuePercent     ValueKind = "percent"
	ValueTemperature ValueKind = "temperature"
	ValueNumber      ValueKind = "number"
)

// valueKinds is the emission order of sentence variants within a type.
var valueKinds = []ValueKind{ValueNone, ValuePercent, ValueTemperature, ValueNumber}

// Accepts reports whether v is producible by the kind's value rule:
// percent is an integer in [0, 100], temperature has at most two integer
// digits and one decimal, number is any finite value.
func (k ValueKind) Accepts(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	switch k {
	case ValuePercent:
		return v >= 0 && v <= 100 && v == math.Trunc(v)
	case ValueTemperature:
		tenths := v * 10
		return math.Abs(v) < 100 && math.Abs(tenths-math.Round(tenths)) < 1e-9
	case ValueNumber:
		return true
	default:
		return false
	}
}

// ParseValueKind maps a configured kind to a ValueKind. Empty means none.
func ParseValueKind(s string) (ValueKind, error) {
	switch ValueKind(s) {
	case "", ValueNone:
		return ValueNone, nil
	case ValuePercent, ValueTemperature, ValueNumber:
		return ValueKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidValueKind, s)
	}
}

// Action is one verb a device type accepts.
type Action struct {
	Name  string    `json:"name" msgpack:"name"`
	Value ValueKind `json:"value" msgpack:"value"`
}

// Profiles maps a device type to its legal actions.
type Profiles map[string][]Action

// genericProfile applies to device types without a profile of their own.
var genericProfile = []Action{
	{Name: "on", Value: ValueNone},
	{Name: "off", Value: ValueNone},
}

// DefaultProfiles returns the built-in action vocabulary.
func DefaultProfiles() Profiles {
	return Profiles{
		"lights": {
			{Name: "on", Value: ValueNone},
			{Name: "off", Value: ValueNone},
			{Name: "dim", Value: ValueNone},
			{Name: "set_percent", Value: ValuePercent},
		},
		"heating": {
			{Name: "on", Value: ValueNone},
			{Name: "off", Value: ValueNone},
			{Name: "set_temperature", Value: ValueTemperature},
		},
		"blinds": {
			{Name: "open", Value: ValueNone},
			{Name: "close", Value: ValueNone},
			{Name: "set_percent", Value: ValuePercent},
		},
		"media_player": {
			{Name: "play", Value: ValueNone},
			{Name: "pause", Value: ValueNone},
			{Name: "stop", Value: ValueNone},
			{Name: "volume", Value: ValuePercent},
		},
		"switch": slices.Clone(genericProfile),
	}
}

// Merge returns a copy of p with every profile in overrides replacing the
// profile of the same device type.
func (p Profiles) Merge(overrides Profiles) Profiles {
	out := maps.Clone(p)
	if out == nil {
		out = make(Profiles, len(overrides))
	}
	for t, actions := range overrides {
		out[t] = slices.Clone(actions)
	}
	return out
}

// For returns the actions for a device type, falling back to on/off.
func (p Profiles) For(deviceType string) []Action {
	if actions, ok := p[deviceType]; ok && len(actions) > 0 {
		return actions
	}
	return genericProfile
}
