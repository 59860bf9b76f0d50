package checkpoint

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend keeps payloads in a map.
// FailPut, FailGet and FailDelete inject storage errors.
type MemoryBackend struct {
	mu       sync.Mutex
	payloads map[string][]byte

	FailPut    error
	FailGet    error
	FailDelete error
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{payloads: map[string][]byte{}}
}

// Put implements Backend.
func (m *MemoryBackend) Put(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return m.FailPut
	}
	m.payloads[key] = slices.Clone(payload)
	return nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet != nil {
		return nil, false, m.FailGet
	}
	p, ok := m.payloads[key]
	return slices.Clone(p), ok, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete != nil {
		return m.FailDelete
	}
	delete(m.payloads, key)
	return nil
}
