package grammar

import (
	"slices"
	"time"
)

// Document is an immutable generated grammar plus the metadata needed to
// detect staleness and to re-validate engine output against it.
type Document struct {
	Backend  string `json:"backend" msgpack:"backend"`
	Revision uint64 `json:"revision" msgpack:"revision"`
	Hash     string `json:"hash" msgpack:"hash"`
	Text     string `json:"text" msgpack:"text"`
	Scope    Scope  `json:"scope" msgpack:"scope"`
	Counts   Counts `json:"counts" msgpack:"counts"`

	// GeneratedAt is set when the document is published. Generate leaves it
	// zero so its output depends only on its inputs.
	GeneratedAt time.Time `json:"generated_at" msgpack:"generated_at"`
}

// Counts summarises what a document covers.
type Counts struct {
	Devices     int `json:"devices" msgpack:"devices"`
	DeviceTypes int `json:"device_types" msgpack:"device_types"`
	Locations   int `json:"locations" msgpack:"locations"`
}

// Scope is the set of terms a document accepts.
type Scope struct {
	Types map[string]TypeScope `json:"types" msgpack:"types"`
}

// TypeScope holds the sorted locations and the actions of one device type.
type TypeScope struct {
	Locations []string             `json:"locations" msgpack:"locations"`
	Actions   map[string]ValueKind `json:"actions" msgpack:"actions"`
}

// HasType reports whether the device type appears in the grammar.
func (s Scope) HasType(deviceType string) bool {
	_, ok := s.Types[deviceType]
	return ok
}

// Allows reports whether the (device type, location) pair appears in the grammar.
func (s Scope) Allows(deviceType, location string) bool {
	ts, ok := s.Types[deviceType]
	if !ok {
		return false
	}
	_, found := slices.BinarySearch(ts.Locations, location)
	return found
}

// Action returns the value kind of an action legal for the device type.
func (s Scope) Action(deviceType, action string) (ValueKind, bool) {
	ts, ok := s.Types[deviceType]
	if !ok {
		return "", false
	}
	kind, ok := ts.Actions[action]
	return kind, ok
}

// Empty reports whether the document accepts only the noop sentence.
func (d *Document) Empty() bool {
	return len(d.Scope.Types) == 0
}

// HasLocation reports whether any device type is reachable at the location.
func (s Scope) HasLocation(location string) bool {
	for _, ts := range s.Types {
		if _, found := slices.BinarySearch(ts.Locations, location); found {
			return true
		}
	}
	return false
}
