package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the device mapping registry of one backend.
//
// Mutations are serialised by a single mutex. Each one works on a copy of
// the current state, persists the resulting record and only then publishes
// a new Snapshot, so a failed mutation leaves neither the store nor the
// readers changed. Reads (Snapshot, Validate) never take the mutex.
type Registry struct {
	backend string
	repo    Repository

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	listenersMu sync.RWMutex
	listeners   []func(*Snapshot)

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry for backend, seeded with
// DefaultDeviceTypes. Call Load to restore persisted state.
func NewRegistry(backend string, repo Repository) *Registry {
	r := &Registry{
		backend: backend,
		repo:    repo,
		logger:  noopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	r.current.Store(newSnapshot(r.seedRecord()))
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// OnChange registers fn to run after every published snapshot. Listeners
// run on the mutating goroutine after the mutex is released.
func (r *Registry) OnChange(fn func(*Snapshot)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// Backend returns the backend ID this registry maps.
func (r *Registry) Backend() string { return r.backend }

func (r *Registry) seedRecord() *Record {
	types := make([]string, len(DefaultDeviceTypes))
	copy(types, DefaultDeviceTypes)
	return &Record{Backend: r.backend, DeviceTypes: types}
}

// Load restores the persisted record. A backend without a stored record
// keeps the seeded empty state.
func (r *Registry) Load(ctx context.Context) error {
	rec, err := r.repo.Load(ctx, r.backend)
	if errors.Is(err, ErrRecordNotFound) {
		r.logger.Info("no mapping record stored, starting empty", "backend", r.backend)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading mapping record: %w", err)
	}

	r.mu.Lock()
	snap := newSnapshot(rec)
	r.current.Store(snap)
	r.mu.Unlock()

	r.logger.Info("mapping record loaded",
		"backend", r.backend,
		"revision", snap.Revision(),
		"devices", len(snap.devices),
		"conflicts", len(snap.conflicts),
	)
	r.notify(snap)
	return nil
}

// Snapshot returns the current immutable view. Lock-free.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Validate returns every (device type, location) pair shared by more than
// one enabled, fully assigned device in the current snapshot.
func (r *Registry) Validate() []Conflict {
	return r.Snapshot().Conflicts()
}

// draft is the mutable working copy of one mutation.
type draft struct {
	devices   map[string]*Device
	types     map[string]bool
	locations map[string]bool

	// touched marks observational edits (LastSeen) that do not move the
	// revision.
	touched bool
}

func newDraft(s *Snapshot) *draft {
	d := &draft{
		devices:   make(map[string]*Device, len(s.devices)),
		types:     make(map[string]bool, len(s.deviceTypes)),
		locations: make(map[string]bool, len(s.locations)),
	}
	for _, dev := range s.devices {
		dev := dev
		d.devices[dev.ID] = &dev
	}
	for _, t := range s.deviceTypes {
		d.types[t] = true
	}
	for _, l := range s.locations {
		d.locations[l] = true
	}
	return d
}

func (d *draft) vocabulary(kind VocabularyKind) map[string]bool {
	if kind == KindDeviceType {
		return d.types
	}
	return d.locations
}

func (d *draft) record(backend string, revision uint64, at time.Time) *Record {
	rec := &Record{
		Backend:     backend,
		Revision:    revision,
		Devices:     make([]Device, 0, len(d.devices)),
		DeviceTypes: sortedKeys(d.types),
		Locations:   sortedKeys(d.locations),
		UpdatedAt:   at,
	}
	for _, dev := range d.devices {
		rec.Devices = append(rec.Devices, *dev)
	}
	sort.Slice(rec.Devices, func(i, j int) bool { return rec.Devices[i].ID < rec.Devices[j].ID })
	return rec
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mutate applies fn to a draft of the current state. When fn reports a
// change, the draft is persisted under the next revision and published.
// A draft that was only touched replaces the snapshot at the same revision
// without persisting or notifying; it is saved with the next change.
func (r *Registry) mutate(ctx context.Context, fn func(d *draft, now time.Time) (bool, error)) (*Snapshot, error) {
	r.mu.Lock()

	cur := r.current.Load()
	d := newDraft(cur)
	now := r.now()

	changed, err := fn(d, now)
	if err != nil {
		r.mu.Unlock()
		return cur, err
	}
	if !changed {
		if d.touched {
			cur = newSnapshot(d.record(r.backend, cur.Revision(), cur.UpdatedAt()))
			r.current.Store(cur)
		}
		r.mu.Unlock()
		return cur, nil
	}

	rec := d.record(r.backend, cur.Revision()+1, now)
	if err := r.repo.Save(ctx, rec); err != nil {
		r.mu.Unlock()
		return cur, fmt.Errorf("persisting mapping record: %w", err)
	}

	next := newSnapshot(rec)
	r.current.Store(next)
	r.mu.Unlock()

	r.notify(next)
	return next, nil
}

func (r *Registry) notify(s *Snapshot) {
	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// UpsertDevices merges freshly fetched devices into the registry.
//
// New devices start disabled and unassigned. Existing devices keep their
// enabled state, device type and location; only backend-owned fields
// (domain, original name, original area) and LastSeen are refreshed. A sync
// that only refreshes LastSeen keeps the revision.
// Devices absent from fetched are retained unless opts.Prune is set.
// Backend-native areas are added to the location vocabulary.
func (r *Registry) UpsertDevices(ctx context.Context, fetched []Device, opts UpsertOptions) (UpsertResult, error) {
	var res UpsertResult

	snap, err := r.mutate(ctx, func(d *draft, now time.Time) (bool, error) {
		seen := make(map[string]bool, len(fetched))
		changed := false

		for _, f := range fetched {
			if f.ID == "" {
				res.Skipped++
				continue
			}
			seen[f.ID] = true

			if area := f.OriginalArea; area != nil {
				name := NormalizeName(*area)
				if ValidateName(name) == nil && !d.locations[name] {
					d.locations[name] = true
					res.Locations = append(res.Locations, name)
					changed = true
				}
			}

			seenAt := now
			existing, ok := d.devices[f.ID]
			if !ok {
				d.devices[f.ID] = &Device{
					ID:           f.ID,
					Domain:       f.Domain,
					OriginalName: f.OriginalName,
					OriginalArea: f.OriginalArea,
					LastSeen:     &seenAt,
					CreatedAt:    now,
					UpdatedAt:    now,
				}
				res.Added = append(res.Added, f.ID)
				changed = true
				continue
			}

			if existing.Domain != f.Domain || existing.OriginalName != f.OriginalName ||
				!equalStringPtr(existing.OriginalArea, f.OriginalArea) {
				existing.Domain = f.Domain
				existing.OriginalName = f.OriginalName
				existing.OriginalArea = f.OriginalArea
				existing.UpdatedAt = now
				res.Updated++
				changed = true
			}
			existing.LastSeen = &seenAt
			d.touched = true
		}

		if opts.Prune {
			for id := range d.devices {
				if !seen[id] {
					delete(d.devices, id)
					res.Pruned = append(res.Pruned, id)
					changed = true
				}
			}
		}
		return changed, nil
	})
	if err != nil {
		return UpsertResult{}, err
	}

	sort.Strings(res.Added)
	sort.Strings(res.Pruned)
	sort.Strings(res.Locations)
	res.Revision = snap.Revision()
	res.Conflicts = snap.Conflicts()

	r.logger.Info("devices upserted",
		"backend", r.backend,
		"revision", res.Revision,
		"fetched", len(fetched),
		"added", len(res.Added),
		"updated", res.Updated,
		"pruned", len(res.Pruned),
	)
	return res, nil
}

// SetEnabled puts a device into or out of grammar scope.
//
// Enabling a device into a pair already held by another enabled device
// succeeds; the pair is reported in Result.Conflicts and dropped from the
// grammar until an administrator resolves it.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) (Result, error) {
	snap, err := r.mutate(ctx, func(d *draft, now time.Time) (bool, error) {
		dev, ok := d.devices[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		if dev.Enabled == enabled {
			return false, nil
		}
		dev.Enabled = enabled
		dev.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	res := r.result(snap, id)
	r.logger.Info("device enabled state set", "backend", r.backend, "device_id", id, "enabled", enabled, "revision", res.Revision)
	r.warnConflicts(res)
	return res, nil
}

// Assign updates a device's device type and location. Each field is
// independently kept, set or cleared. Names are normalised and must exist
// in their vocabulary.
func (r *Registry) Assign(ctx context.Context, id string, deviceType, location Update) (Result, error) {
	snap, err := r.mutate(ctx, func(d *draft, now time.Time) (bool, error) {
		dev, ok := d.devices[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}

		newType, err := applyUpdate(dev.DeviceType, deviceType, KindDeviceType, d.types)
		if err != nil {
			return false, err
		}
		newLoc, err := applyUpdate(dev.Location, location, KindLocation, d.locations)
		if err != nil {
			return false, err
		}

		if equalStringPtr(newType, dev.DeviceType) && equalStringPtr(newLoc, dev.Location) {
			return false, nil
		}
		dev.DeviceType = newType
		dev.Location = newLoc
		dev.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	res := r.result(snap, id)
	r.logger.Info("device assigned",
		"backend", r.backend,
		"device_id", id,
		"device_type", deviceType.String(),
		"location", location.String(),
		"revision", res.Revision,
	)
	r.warnConflicts(res)
	return res, nil
}

// applyUpdate resolves an Update against the current value and vocabulary.
func applyUpdate(cur *string, u Update, kind VocabularyKind, vocab map[string]bool) (*string, error) {
	if u.IsKeep() {
		return cur, nil
	}
	if u.IsClear() {
		return nil, nil
	}
	v, _ := u.Value()
	name := NormalizeName(v)
	if !vocab[name] {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownVocabulary, kind, v)
	}
	return &name, nil
}

// AddVocabulary registers a new device type or location.
func (r *Registry) AddVocabulary(ctx context.Context, kind VocabularyKind, name string) (Result, error) {
	norm := NormalizeName(name)
	if err := ValidateName(norm); err != nil {
		return Result{}, err
	}

	snap, err := r.mutate(ctx, func(d *draft, _ time.Time) (bool, error) {
		vocab := d.vocabulary(kind)
		if vocab[norm] {
			return false, fmt.Errorf("%w: %s %q", ErrVocabularyExists, kind, norm)
		}
		vocab[norm] = true
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	r.logger.Info("vocabulary added", "backend", r.backend, "kind", kind, "name", norm, "revision", snap.Revision())
	return Result{Revision: snap.Revision()}, nil
}

// RemoveVocabulary unregisters a device type or location. Entries
// referenced by any device, enabled or not, fail with *InUseError.
func (r *Registry) RemoveVocabulary(ctx context.Context, kind VocabularyKind, name string) (Result, error) {
	norm := NormalizeName(name)

	snap, err := r.mutate(ctx, func(d *draft, _ time.Time) (bool, error) {
		vocab := d.vocabulary(kind)
		if !vocab[norm] {
			return false, fmt.Errorf("%w: %s %q", ErrUnknownVocabulary, kind, norm)
		}

		var users []string
		for _, dev := range d.devices {
			ref := dev.Location
			if kind == KindDeviceType {
				ref = dev.DeviceType
			}
			if ref != nil && *ref == norm {
				users = append(users, dev.ID)
			}
		}
		if len(users) > 0 {
			sort.Strings(users)
			return false, &InUseError{Kind: kind, Name: norm, DeviceIDs: users}
		}

		delete(vocab, norm)
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	r.logger.Info("vocabulary removed", "backend", r.backend, "kind", kind, "name", norm, "revision", snap.Revision())
	return Result{Revision: snap.Revision()}, nil
}

func (r *Registry) result(snap *Snapshot, id string) Result {
	res := Result{Revision: snap.Revision(), Conflicts: snap.conflictsFor(id)}
	if dev, ok := snap.Device(id); ok {
		res.Device = &dev
	}
	return res
}

func (r *Registry) warnConflicts(res Result) {
	for _, c := range res.Conflicts {
		r.logger.Warn("mapping conflict, pair excluded from grammar",
			"backend", r.backend,
			"pair", c.Pair.String(),
			"device_ids", c.DeviceIDs,
		)
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
