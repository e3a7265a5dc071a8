package device

import (
	"context"
	"sync"
)

// MemoryRepository is a Repository that keeps records in process memory.
// Used for ephemeral registries and by tests of dependent packages.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

// Load returns a copy of the stored record.
func (m *MemoryRepository) Load(_ context.Context, backend string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[backend]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

// Save stores rec unless an equal or newer revision is already stored.
func (m *MemoryRepository) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.records[rec.Backend]; ok && prev.Revision >= rec.Revision {
		return ErrStaleRecord
	}
	m.records[rec.Backend] = *rec
	return nil
}
