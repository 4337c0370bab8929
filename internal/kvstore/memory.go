package kvstore

import (
	"sync"

	"github.com/nativestorage/nativestorage/internal/types"
)

// MemoryStore is an in-memory Store, used in tests and for dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]types.Value

	// SetErr, when set, is called by Set before storing; its error is
	// returned and the value is not stored
	SetErr func(key string) error
	// SyncErr, when set, is returned by Sync
	SyncErr error
	// Syncs counts Sync calls
	Syncs int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]types.Value)}
}

func (m *MemoryStore) Get(key string) (types.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *MemoryStore) Set(key string, value types.Value) error {
	if err := validate(key, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		if err := m.SetErr(key); err != nil {
			return err
		}
	}
	m.entries[key] = value
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.entries)
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]types.Value)
	return nil
}

func (m *MemoryStore) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Syncs++
	return m.SyncErr
}
