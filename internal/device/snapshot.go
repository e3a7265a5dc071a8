package device

import (
	"slices"
	"sort"
	"time"
)

// Snapshot is an immutable, revision-stamped view of one backend's registry.
//
// Snapshots are published atomically after every committed mutation, so a
// reader never observes a half-applied change. All accessors return copies.
type Snapshot struct {
	backend     string
	revision    uint64
	updatedAt   time.Time
	devices     []Device // sorted by ID
	byID        map[string]int
	deviceTypes []string // sorted
	locations   []string // sorted
	conflicts   []Conflict
	conflicted  map[Pair]bool
	eligible    map[Pair]int // index into devices
}

// newSnapshot builds a snapshot from a record the caller no longer mutates.
func newSnapshot(rec *Record) *Snapshot {
	s := &Snapshot{
		backend:     rec.Backend,
		revision:    rec.Revision,
		updatedAt:   rec.UpdatedAt,
		devices:     slices.Clone(rec.Devices),
		deviceTypes: slices.Clone(rec.DeviceTypes),
		locations:   slices.Clone(rec.Locations),
	}
	sort.Slice(s.devices, func(i, j int) bool { return s.devices[i].ID < s.devices[j].ID })
	sort.Strings(s.deviceTypes)
	sort.Strings(s.locations)

	s.byID = make(map[string]int, len(s.devices))
	for i, d := range s.devices {
		s.byID[d.ID] = i
	}

	s.conflicts = FindConflicts(s.devices)
	s.conflicted = make(map[Pair]bool, len(s.conflicts))
	for _, c := range s.conflicts {
		s.conflicted[c.Pair] = true
	}

	s.eligible = make(map[Pair]int)
	for i, d := range s.devices {
		if !d.Enabled {
			continue
		}
		if p, ok := d.Pair(); ok && !s.conflicted[p] {
			s.eligible[p] = i
		}
	}
	return s
}

// Backend returns the backend this snapshot belongs to.
func (s *Snapshot) Backend() string { return s.backend }

// Revision returns the commit counter the snapshot was taken at.
func (s *Snapshot) Revision() uint64 { return s.revision }

// UpdatedAt returns the commit time of the snapshot.
func (s *Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// Devices returns all devices sorted by ID.
func (s *Snapshot) Devices() []Device { return slices.Clone(s.devices) }

// Device returns the device with the given ID.
func (s *Snapshot) Device(id string) (Device, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Device{}, false
	}
	return s.devices[i], true
}

// Vocabulary returns the sorted names of one vocabulary.
func (s *Snapshot) Vocabulary(kind VocabularyKind) []string {
	if kind == KindDeviceType {
		return slices.Clone(s.deviceTypes)
	}
	return slices.Clone(s.locations)
}

// HasVocabulary reports whether a normalised name is registered.
func (s *Snapshot) HasVocabulary(kind VocabularyKind, name string) bool {
	list := s.locations
	if kind == KindDeviceType {
		list = s.deviceTypes
	}
	_, found := slices.BinarySearch(list, name)
	return found
}

// Conflicts returns the authoritative conflict set of this snapshot.
func (s *Snapshot) Conflicts() []Conflict { return slices.Clone(s.conflicts) }

// InConflict reports whether a pair is shared by several enabled devices.
func (s *Snapshot) InConflict(p Pair) bool { return s.conflicted[p] }

// Eligible returns the devices in grammar scope: enabled, fully assigned
// and not part of a conflicting pair. Sorted by ID.
func (s *Snapshot) Eligible() []Device {
	out := make([]Device, 0, len(s.eligible))
	for _, d := range s.devices {
		if p, ok := d.Pair(); ok && d.Enabled && !s.conflicted[p] {
			out = append(out, d)
		}
	}
	return out
}

// Lookup returns the unique eligible device for a pair. Conflicting pairs
// never match.
func (s *Snapshot) Lookup(p Pair) (Device, bool) {
	i, ok := s.eligible[p]
	if !ok {
		return Device{}, false
	}
	return s.devices[i], true
}

// conflictsFor returns the conflicts involving the given device.
func (s *Snapshot) conflictsFor(id string) []Conflict {
	d, ok := s.Device(id)
	if !ok || !d.Enabled {
		return nil
	}
	p, ok := d.Pair()
	if !ok || !s.conflicted[p] {
		return nil
	}
	for _, c := range s.conflicts {
		if c.Pair == p {
			return []Conflict{c}
		}
	}
	return nil
}

// Record converts the snapshot back into its persisted form.
func (s *Snapshot) Record() *Record {
	return &Record{
		Backend:     s.backend,
		Revision:    s.revision,
		Devices:     slices.Clone(s.devices),
		DeviceTypes: slices.Clone(s.deviceTypes),
		Locations:   slices.Clone(s.locations),
		UpdatedAt:   s.updatedAt,
	}
}
