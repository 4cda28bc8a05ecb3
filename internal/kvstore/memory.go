package kvstore

import (
	"context"
	"maps"
	"sync"
)

// Memory is an in-process Store. It is not durable and exists for tests and
// for running without a database.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string

	// ApplyErr, when set, is returned by every Apply call
	ApplyErr error
	// LookupErr, when set, is returned by every Lookup call
	LookupErr error
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Lookup(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LookupErr != nil {
		return "", false, m.LookupErr
	}

	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Apply(_ context.Context, edits ...Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ApplyErr != nil {
		return m.ApplyErr
	}

	m.apply(edits)
	return nil
}

func (m *Memory) ApplyIf(_ context.Context, key, want string, edits ...Edit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ApplyErr != nil {
		return false, m.ApplyErr
	}

	if v, ok := m.values[key]; !ok || v != want {
		return false, nil
	}
	m.apply(edits)
	return true, nil
}

func (m *Memory) apply(edits []Edit) {
	for _, e := range edits {
		m.values[e.Key] = e.Value
	}
}

// Snapshot returns a copy of every stored value
func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values)
}
