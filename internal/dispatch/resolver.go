package dispatch

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-voice/internal/command"
	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

// MappingSource names the strategy that resolved a command.
type MappingSource string

const (
	SourceExplicit MappingSource = "explicit_mapping"
	SourceLegacy   MappingSource = "legacy_table"
	SourceDefault  MappingSource = "default_fallback"
)

// Resolution is a resolved target device.
type Resolution struct {
	DeviceID string        `json:"device_id"`
	Source   MappingSource `json:"mapping_source"`
}

// Strategy maps a command to a device, or reports no match.
type Strategy interface {
	Resolve(ctx context.Context, cmd command.Command) (Resolution, bool)
}

// SnapshotSource provides the current registry view.
type SnapshotSource interface {
	Snapshot() *device.Snapshot
}

// ExplicitMapping resolves through the device registry. Conflicting pairs
// never match.
type ExplicitMapping struct {
	Registry SnapshotSource
}

func (s ExplicitMapping) Resolve(_ context.Context, cmd command.Command) (Resolution, bool) {
	d, ok := s.Registry.Snapshot().Lookup(cmd.Pair())
	if !ok {
		return Resolution{}, false
	}
	return Resolution{DeviceID: d.ID, Source: SourceExplicit}, true
}

// LegacyTable is a static pair to device table predating the registry.
type LegacyTable map[device.Pair]string

// NewLegacyTable builds a table from configuration. Names are normalised
// the same way as registry vocabulary.
func NewLegacyTable(entries []config.LegacyMappingConfig) LegacyTable {
	t := make(LegacyTable, len(entries))
	for _, e := range entries {
		p := device.Pair{DeviceType: device.NormalizeName(e.DeviceType), Location: device.NormalizeName(e.Location)}
		t[p] = e.DeviceID
	}
	return t
}

func (t LegacyTable) Resolve(_ context.Context, cmd command.Command) (Resolution, bool) {
	id, ok := t[cmd.Pair()]
	if !ok || id == "" {
		return Resolution{}, false
	}
	return Resolution{DeviceID: id, Source: SourceLegacy}, true
}

// DefaultFallback sends everything to one device. Every use is logged at
// WARN since it means the registry did not cover the command.
type DefaultFallback struct {
	DeviceID string
	Logger   Logger
}

func (f DefaultFallback) Resolve(_ context.Context, cmd command.Command) (Resolution, bool) {
	if f.DeviceID == "" {
		return Resolution{}, false
	}
	if f.Logger != nil {
		f.Logger.Warn("command resolved by default fallback",
			"pair", cmd.Pair().String(),
			"action", cmd.Action,
			"device_id", f.DeviceID,
		)
	}
	return Resolution{DeviceID: f.DeviceID, Source: SourceDefault}, true
}

// Resolver tries strategies in order.
type Resolver struct {
	strategies []Strategy
}

// NewResolver returns a Resolver over the given strategies.
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// NewBackendResolver builds the standard explicit, legacy, default chain
// for one backend. Empty legacy tables and default devices are skipped.
func NewBackendResolver(reg SnapshotSource, cfg config.BackendConfig, logger Logger) *Resolver {
	strategies := []Strategy{ExplicitMapping{Registry: reg}}
	if len(cfg.LegacyMappings) > 0 {
		strategies = append(strategies, NewLegacyTable(cfg.LegacyMappings))
	}
	if cfg.DefaultDevice != "" {
		strategies = append(strategies, DefaultFallback{DeviceID: cfg.DefaultDevice, Logger: logger})
	}
	return NewResolver(strategies...)
}

// Resolve returns the first strategy's match or ErrUnresolved.
func (r *Resolver) Resolve(ctx context.Context, cmd command.Command) (Resolution, error) {
	for _, s := range r.strategies {
		if res, ok := s.Resolve(ctx, cmd); ok {
			return res, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %s", ErrUnresolved, cmd.Pair())
}
