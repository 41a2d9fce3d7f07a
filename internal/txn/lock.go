package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scenergy/scenesync/internal/events"
)

// DefaultLockTimeout bounds how long Acquire waits for a contended key.
const DefaultLockTimeout = 5 * time.Second

// LockTimeoutError reports that a lock could not be acquired in time.
type LockTimeoutError struct {
	Key     EntityKey
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("acquire lock for %s: timeout after %s", e.Key, e.Timeout)
}

// StateVersion is the attempt counter for one entity key. It advances
// on every transaction attempt, committed or not, so a changed version
// means "someone tried to write here", not "a write succeeded".
type StateVersion struct {
	Key       EntityKey
	Version   int
	UpdatedAt time.Time
}

// LockTable provides per-key mutual exclusion and version counters for
// optimistic concurrency checks. Locks are not reentrant and carry no
// owner: whoever acquired a key must be the one releasing it.
type LockTable struct {
	mu       sync.Mutex
	sems     map[EntityKey]chan struct{}
	versions map[EntityKey]StateVersion
	timeout  time.Duration
	logger   *events.Logger
}

// NewLockTable creates a lock table. A non-positive timeout falls back
// to DefaultLockTimeout.
func NewLockTable(timeout time.Duration, logger *events.Logger) *LockTable {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if logger == nil {
		logger = events.Discard()
	}

	return &LockTable{
		sems:     make(map[EntityKey]chan struct{}),
		versions: make(map[EntityKey]StateVersion),
		timeout:  timeout,
		logger:   logger.WithField("component", "locks"),
	}
}

// sem returns the key's semaphore, creating it on first use.
func (t *LockTable) sem(key EntityKey) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.sems[key]
	if !ok {
		ch = make(chan struct{}, 1)
		t.sems[key] = ch
	}
	return ch
}

// Acquire blocks until the key's lock is free, the acquire timeout
// passes, or ctx is done. Waiters blocked on the same key wake in
// roughly arrival order.
func (t *LockTable) Acquire(ctx context.Context, key EntityKey) error {
	sem := t.sem(key)

	select {
	case sem <- struct{}{}:
		return nil
	default:
	}

	t.logger.WithField("key", key.String()).Debug("waiting for entity lock")

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return nil
	case <-timer.C:
		t.logger.WithField("key", key.String()).Warn("lock acquire timed out")
		return &LockTimeoutError{Key: key, Timeout: t.timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the key's lock. Releasing an unheld key is a no-op.
func (t *LockTable) Release(key EntityKey) {
	t.mu.Lock()
	sem, ok := t.sems[key]
	t.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-sem:
	default:
	}
}

// IsLocked reports whether the key is currently held.
func (t *LockTable) IsLocked(key EntityKey) bool {
	t.mu.Lock()
	sem, ok := t.sems[key]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return len(sem) > 0
}

// Increment advances the key's version counter and returns the new
// value. The first increment yields version 1.
func (t *LockTable) Increment(key EntityKey) StateVersion {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := t.versions[key]
	v.Key = key
	v.Version++
	v.UpdatedAt = time.Now().UTC()
	t.versions[key] = v

	return v
}

// Version returns the key's current version, if one was recorded.
func (t *LockTable) Version(key EntityKey) (StateVersion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.versions[key]
	return v, ok
}

// Validate reports whether expected matches the key's current version.
// A key with no recorded version validates against anything.
func (t *LockTable) Validate(key EntityKey, expected int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.versions[key]
	if !ok {
		return true
	}
	return v.Version == expected
}
