package grammar

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-voice/internal/device"
)

// Logger defines the logging interface used by this package.
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

// Provider serves the current document for a registry snapshot,
// regenerating when the registry revision has moved past the cache.
type Provider struct {
	cache    *Cache
	profiles Profiles
	store    Store
	logger   Logger
	onUpdate func(*Document)
	now      func() time.Time
}

// NewProvider creates a Provider over cache using the given action profiles.
func NewProvider(cache *Cache, profiles Profiles) *Provider {
	return &Provider{cache: cache, profiles: profiles, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger.
func (p *Provider) SetLogger(logger Logger) {
	p.logger = logger
}

// SetStore enables persistence of newly generated documents.
func (p *Provider) SetStore(store Store) {
	p.store = store
}

// OnUpdate registers a callback invoked after a newer document is published.
func (p *Provider) OnUpdate(fn func(*Document)) {
	p.onUpdate = fn
}

// Profiles returns the action profiles used for generation.
func (p *Provider) Profiles() Profiles {
	return p.profiles
}

// Cached returns the cached document of a backend without regenerating.
func (p *Provider) Cached(backend string) *Document {
	return p.cache.Get(backend)
}

// Document returns a document at least as new as snap.
//
// Concurrent callers may both regenerate; Cache.Publish keeps the newest.
// The returned document is never older than snap, though it can be newer
// when another caller published a later revision meanwhile.
func (p *Provider) Document(ctx context.Context, snap *device.Snapshot) (*Document, error) {
	if cur := p.cache.Get(snap.Backend()); cur != nil && cur.Revision >= snap.Revision() {
		return cur, nil
	}

	doc := Generate(snap, p.profiles)
	doc.GeneratedAt = p.now().UTC()
	cached, installed := p.cache.Publish(doc)
	if !installed {
		return cached, nil
	}

	p.logger.Info("grammar regenerated",
		"backend", doc.Backend,
		"revision", doc.Revision,
		"hash", doc.Hash,
		"devices", doc.Counts.Devices,
		"device_types", doc.Counts.DeviceTypes,
		"locations", doc.Counts.Locations,
	)

	p.persist(ctx, doc)
	if p.onUpdate != nil {
		p.onUpdate(doc)
	}
	return doc, nil
}

// persist writes doc to the store unless a document with the same input hash
// is already there. Revisions that leave the eligible set unchanged produce
// the same hash and are not rewritten.
func (p *Provider) persist(ctx context.Context, doc *Document) {
	if p.store == nil {
		return
	}
	_, err := p.store.Get(ctx, doc.Backend, doc.Hash)
	switch {
	case err == nil:
		p.logger.Debug("grammar already stored", "backend", doc.Backend, "hash", doc.Hash)
		return
	case !errors.Is(err, ErrNotFound):
		p.logger.Warn("reading stored grammar failed", "backend", doc.Backend, "hash", doc.Hash, "error", err)
	}
	if err := p.store.Put(ctx, doc); err != nil {
		p.logger.Warn("persisting grammar failed", "backend", doc.Backend, "hash", doc.Hash, "error", err)
	}
}
