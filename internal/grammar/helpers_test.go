package grammar

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-voice/internal/device"
)

type mapping struct {
	id, deviceType, location string
	enabled                  bool
}

// newRegistry builds a registry holding the given mappings.
func newRegistry(t *testing.T, mappings ...mapping) *device.Registry {
	t.Helper()
	ctx := context.Background()
	reg := device.NewRegistry("home", device.NewMemoryRepository())

	fetched := make([]device.Device, len(mappings))
	for i, m := range mappings {
		area := m.location
		fetched[i] = device.Device{ID: m.id, Domain: "light", OriginalArea: &area}
	}
	if _, err := reg.UpsertDevices(ctx, fetched, device.UpsertOptions{}); err != nil {
		t.Fatalf("UpsertDevices() error = %v", err)
	}

	for _, m := range mappings {
		if _, err := reg.AddVocabulary(ctx, device.KindDeviceType, m.deviceType); err != nil && !errors.Is(err, device.ErrVocabularyExists) {
			t.Fatalf("AddVocabulary(%q) error = %v", m.deviceType, err)
		}
		if _, err := reg.Assign(ctx, m.id, device.Set(m.deviceType), device.Set(m.location)); err != nil {
			t.Fatalf("Assign(%s) error = %v", m.id, err)
		}
		if _, err := reg.SetEnabled(ctx, m.id, m.enabled); err != nil {
			t.Fatalf("SetEnabled(%s) error = %v", m.id, err)
		}
	}
	return reg
}
