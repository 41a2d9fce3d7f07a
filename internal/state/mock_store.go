package state

import (
	"sync"
)

// MockStore provides an in-memory implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMockStore creates a mock snapshot store.
func NewMockStore() *MockStore {
	return &MockStore{
		snapshots: make(map[string]*Snapshot),
	}
}

// Load retrieves the snapshot for a client.
func (m *MockStore) Load(clientID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if snap, ok := m.snapshots[clientID]; ok {
		return cloneSnapshot(snap), nil
	}

	return nil, ErrSnapshotNotFound
}

// Save persists the snapshot for a client.
func (m *MockStore) Save(clientID string, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[clientID] = cloneSnapshot(snap)
	return nil
}

// Reset removes the snapshot for a client.
func (m *MockStore) Reset(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, clientID)
	return nil
}

// List returns all client IDs with a stored snapshot.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var clientIDs []string
	for clientID := range m.snapshots {
		clientIDs = append(clientIDs, clientID)
	}
	return clientIDs, nil
}

// Close closes the store (no-op for mock).
func (m *MockStore) Close() error {
	return nil
}

// Helper methods for testing

// SaveSnapshot stores a snapshot directly (for test setup).
func (m *MockStore) SaveSnapshot(clientID string, snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[clientID] = snap
}

// Clear removes all snapshots.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[string]*Snapshot)
}

// cloneSnapshot copies the snapshot shell and its pending jobs. The
// workspace tree is shared: trees are never mutated in place, so the
// pointer is safe to hand out.
func cloneSnapshot(snap *Snapshot) *Snapshot {
	if snap == nil {
		return nil
	}
	clone := *snap
	clone.PendingJobs = append([]PendingJob(nil), snap.PendingJobs...)
	return &clone
}
