package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultDeviceTypes seeds the device type vocabulary of a new registry.
var DefaultDeviceTypes = []string{"lights", "heating", "blinds", "media_player", "switch"}

// Device is a single controllable endpoint exposed by a backend, plus the
// voice mapping an administrator gave it.
//
// DeviceType and Location point at normalised vocabulary names. Code that
// changes them replaces the pointer and never writes through it, so
// shallow copies of a Device are safe to hand out.
type Device struct {
	ID           string  `json:"id"`
	Domain       string  `json:"domain"`
	OriginalName string  `json:"original_name"`
	OriginalArea *string `json:"original_area,omitempty"`

	Enabled    bool    `json:"enabled"`
	DeviceType *string `json:"device_type"`
	Location   *string `json:"location"`

	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Pair returns the device's (device type, location) pair when both are assigned.
func (d Device) Pair() (Pair, bool) {
	if d.DeviceType == nil || d.Location == nil {
		return Pair{}, false
	}
	return Pair{DeviceType: *d.DeviceType, Location: *d.Location}, true
}

// Pair is the only handle a spoken command has on a device.
type Pair struct {
	DeviceType string `json:"device_type"`
	Location   string `json:"location"`
}

func (p Pair) String() string {
	return p.DeviceType + "@" + p.Location
}

// Conflict is a pair shared by more than one enabled, fully assigned device.
type Conflict struct {
	Pair      Pair     `json:"pair"`
	DeviceIDs []string `json:"device_ids"`
}

// VocabularyKind selects one of the two user-extensible vocabularies.
type VocabularyKind string

const (
	KindDeviceType VocabularyKind = "device_type"
	KindLocation   VocabularyKind = "location"
)

// ParseVocabularyKind accepts the singular or plural form of a kind.
func ParseVocabularyKind(s string) (VocabularyKind, error) {
	switch s {
	case "device_type", "device_types":
		return KindDeviceType, nil
	case "location", "locations":
		return KindLocation, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Record is the persisted form of one backend's registry: the device set,
// both vocabularies and the revision they were committed at.
type Record struct {
	Backend     string    `json:"backend"`
	Revision    uint64    `json:"revision"`
	Devices     []Device  `json:"devices"`
	DeviceTypes []string  `json:"device_types"`
	Locations   []string  `json:"locations"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UpsertOptions controls UpsertDevices.
type UpsertOptions struct {
	// Prune removes devices absent from the fetched set.
	Prune bool
}

// UpsertResult summarises a merge of fetched devices.
type UpsertResult struct {
	Revision  uint64     `json:"revision"`
	Added     []string   `json:"added"`
	Updated   int        `json:"updated"`
	Pruned    []string   `json:"pruned"`
	Skipped   int        `json:"skipped"`
	Locations []string   `json:"locations_seeded"`
	Conflicts []Conflict `json:"conflicts"`
}

// Result is returned by every administrative mutation. Conflicts lists
// the pairs involving the mutated device; they do not fail the mutation.
type Result struct {
	Revision  uint64     `json:"revision"`
	Device    *Device    `json:"device,omitempty"`
	Conflicts []Conflict `json:"conflicts"`
}

// ConflictErr returns a *ConflictError wrapping ErrMappingConflict when the
// mutation left the device in conflict, or nil.
func (r Result) ConflictErr() error {
	if len(r.Conflicts) == 0 {
		return nil
	}
	return &ConflictError{Conflicts: r.Conflicts}
}

type updateOp uint8

const (
	opKeep updateOp = iota
	opSet
	opClear
)

// Update is a partial-update field: leave unchanged, set to a value, or clear.
//
// The zero value keeps the current value. In JSON an absent field keeps,
// null clears and a string sets.
type Update struct {
	op    updateOp
	value string
}

// Keep leaves the field unchanged.
func Keep() Update { return Update{} }

// Set assigns v.
func Set(v string) Update { return Update{op: opSet, value: v} }

// Clear unassigns the field.
func Clear() Update { return Update{op: opClear} }

// IsKeep reports whether the update leaves the field unchanged.
func (u Update) IsKeep() bool { return u.op == opKeep }

// IsClear reports whether the update unassigns the field.
func (u Update) IsClear() bool { return u.op == opClear }

// Value returns the value to set, if any.
func (u Update) Value() (string, bool) { return u.value, u.op == opSet }

// UnmarshalJSON decodes null as Clear and a string as Set.
func (u *Update) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*u = Clear()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("update must be a string or null: %w", err)
	}
	*u = Set(s)
	return nil
}

// MarshalJSON encodes Set as its string and everything else as null.
func (u Update) MarshalJSON() ([]byte, error) {
	if v, ok := u.Value(); ok {
		return json.Marshal(v)
	}
	return []byte("null"), nil
}

func (u Update) String() string {
	switch u.op {
	case opSet:
		return fmt.Sprintf("set(%q)", u.value)
	case opClear:
		return "clear"
	default:
		return "keep"
	}
}
