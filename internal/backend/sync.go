package backend

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-voice/internal/device"
)

// Sync fetches the backend's entities and merges them into the registry.
// Existing mappings survive; new devices arrive disabled and unassigned.
func Sync(ctx context.Context, b Backend, reg *device.Registry, prune bool) (device.UpsertResult, error) {
	entities, err := b.FetchEntities(ctx)
	if err != nil {
		return device.UpsertResult{}, fmt.Errorf("fetching entities from %s: %w", b.ID(), err)
	}

	devices := make([]device.Device, len(entities))
	for i, e := range entities {
		devices[i] = device.Device{
			ID:           e.ID,
			Domain:       e.Domain,
			OriginalName: e.Name,
			OriginalArea: e.Area,
		}
	}
	return reg.UpsertDevices(ctx, devices, device.UpsertOptions{Prune: prune})
}
