package identity

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a non-persistent Store, used in tests and for throwaway sessions
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, matchCode string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[matchCode]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, matchCode, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[matchCode] = playerID
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, matchCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, matchCode)
	return nil
}
