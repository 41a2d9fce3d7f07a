package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scenergy/scenesync/internal/events"
)

// Default retry policy for persisting a transaction.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// maxHistory caps how many finished transactions are kept around for
// introspection before the oldest are evicted.
const maxHistory = 256

// Status is a transaction's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusFailed     Status = "failed"
)

// TransactionFailedError reports that every persist attempt failed and
// the previous state was restored.
type TransactionFailedError struct {
	Key      EntityKey
	Attempts int
	Err      error
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction on %s failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *TransactionFailedError) Unwrap() error {
	return e.Err
}

// Transaction records one optimistic update for introspection. Records
// live in memory only.
type Transaction struct {
	ID        string
	Key       EntityKey
	Status    Status
	Attempts  int
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// Request describes one optimistic update against a keyed entity.
// Apply must be a pure transform; it is called exactly once. Publish
// receives the optimistic state right after Apply and, when every
// persist attempt fails, the previous state again.
type Request[S, R any] struct {
	Key     EntityKey
	Read    func() S
	Apply   func(S) S
	Publish func(S)
	Persist func(context.Context, S) (R, error)
}

// Options carries optional per-transaction settings. Zero MaxRetries
// and RetryDelay fall back to the manager's configuration.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	OnSuccess  func()
	OnRollback func(error)
}

// Manager serializes writes per entity key and runs them as optimistic
// transactions: publish first, persist with retries, roll the published
// state back when persistence is exhausted.
type Manager struct {
	locks      *LockTable
	maxRetries int
	retryDelay time.Duration
	logger     *events.Logger

	mu      sync.Mutex
	history map[string]*Transaction
	order   []string
}

// NewManager creates a transaction manager. Non-positive retry settings
// fall back to the defaults.
func NewManager(locks *LockTable, maxRetries int, retryDelay time.Duration, logger *events.Logger) *Manager {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = events.Discard()
	}

	return &Manager{
		locks:      locks,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "txn"),
		history:    make(map[string]*Transaction),
	}
}

// Locks exposes the manager's lock table for version checks.
func (m *Manager) Locks() *LockTable {
	return m.locks
}

// Transaction returns a copy of a recorded transaction.
func (m *Manager) Transaction(id string) (Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.history[id]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

// TransactionCount reports how many transactions are recorded.
func (m *Manager) TransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Transactions returns copies of all recorded transactions, oldest
// first.
func (m *Manager) Transactions() []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Transaction, 0, len(m.order))
	for _, id := range m.order {
		if tx, ok := m.history[id]; ok {
			out = append(out, *tx)
		}
	}
	return out
}

func (m *Manager) begin(key EntityKey) *Transaction {
	tx := &Transaction{
		ID:        uuid.NewString(),
		Key:       key,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.history[tx.ID] = tx
	m.order = append(m.order, tx.ID)
	if len(m.order) > maxHistory {
		evict := m.order[0]
		m.order = m.order[1:]
		delete(m.history, evict)
	}
	m.mu.Unlock()

	return tx
}

func (m *Manager) finish(tx *Transaction, status Status, attempts int, err error) {
	m.mu.Lock()
	tx.Status = status
	tx.Attempts = attempts
	tx.Err = err
	tx.EndedAt = time.Now().UTC()
	m.mu.Unlock()
}

// Execute runs one optimistic transaction through m. It acquires the
// key's lock, applies the update, publishes it, bumps the version, and
// persists with exponential backoff. On exhaustion the previous state
// is republished and a TransactionFailedError is returned. The zero R
// is returned on any failure.
func Execute[S, R any](ctx context.Context, m *Manager, req Request[S, R], opts Options) (R, error) {
	var zero R

	if req.Read == nil || req.Apply == nil || req.Persist == nil {
		return zero, fmt.Errorf("incomplete transaction request for %s", req.Key)
	}

	if err := m.locks.Acquire(ctx, req.Key); err != nil {
		m.logger.WithError(err).WithField("key", req.Key.String()).Warn("transaction lock not acquired")
		return zero, err
	}
	defer m.locks.Release(req.Key)

	tx := m.begin(req.Key)
	logger := m.logger.WithFields(map[string]interface{}{
		"txn_id": tx.ID,
		"key":    req.Key.String(),
	})

	previous := req.Read()
	updated := req.Apply(previous)

	if req.Publish != nil {
		req.Publish(updated)
	}

	version := m.locks.Increment(req.Key)
	logger.WithField("version", version.Version).Debug("optimistic state published")

	maxRetries := m.maxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	}
	delay := m.retryDelay
	if opts.RetryDelay > 0 {
		delay = opts.RetryDelay
	}

	var lastErr error
	cancelled := false
	attempts := 0

	for attempt := 1; attempt <= maxRetries; attempt++ {
		attempts = attempt

		result, err := req.Persist(ctx, updated)
		if err == nil {
			m.finish(tx, StatusCommitted, attempts, nil)
			logger.WithField("attempts", attempts).Debug("transaction committed")
			if opts.OnSuccess != nil {
				opts.OnSuccess()
			}
			return result, nil
		}

		lastErr = err
		logger.WithError(err).WithField("attempt", attempt).Warn("persist attempt failed")

		if attempt == maxRetries {
			break
		}

		if err := sleepContext(ctx, delay); err != nil {
			lastErr = err
			cancelled = true
			break
		}
		delay *= 2
	}

	// Restore the published state before reporting failure.
	if req.Publish != nil {
		req.Publish(previous)
	}

	status := StatusRolledBack
	if cancelled {
		status = StatusFailed
	}
	m.finish(tx, status, attempts, lastErr)
	logger.WithError(lastErr).WithField("attempts", attempts).Error("transaction rolled back")

	if opts.OnRollback != nil {
		opts.OnRollback(lastErr)
	}

	return zero, &TransactionFailedError{Key: req.Key, Attempts: attempts, Err: lastErr}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
