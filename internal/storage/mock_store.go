package storage

import (
	"fmt"
	"sync"
)

// MockStore provides an in-memory implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMockStore creates a mock asset store.
func NewMockStore() *MockStore {
	return &MockStore{
		files: make(map[string][]byte),
	}
}

// Write stores a copy of the asset and returns the name as its path.
func (m *MockStore) Write(name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[name] = stored
	return name, nil
}

// Exists reports whether an asset is stored.
func (m *MockStore) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.files[name]
	return ok
}

// Read retrieves asset contents.
func (m *MockStore) Read(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if data, ok := m.files[name]; ok {
		result := make([]byte, len(data))
		copy(result, data)
		return result, nil
	}

	return nil, fmt.Errorf("asset not found: %s", name)
}

// Helper methods for testing

// Clear removes all assets.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = make(map[string][]byte)
}

// Count returns the number of stored assets.
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
