package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
	"github.com/scenergy/scenesync/internal/txn"
)

// Status describes how a keyed entity relates to the remote store.
type Status string

const (
	StatusSynced   Status = "synced"
	StatusSyncing  Status = "syncing"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
)

// OpType identifies a workspace mutation.
type OpType string

const (
	OpAddMessage    OpType = "add_message"
	OpUpdateMessage OpType = "update_message"
	OpAddSession    OpType = "add_session"
	OpUpdateSession OpType = "update_session"
)

// OpStatus is an operation's lifecycle state.
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpSyncing   OpStatus = "syncing"
	OpCompleted OpStatus = "completed"
	OpFailed    OpStatus = "failed"
)

// Operation tracks one workspace mutation from registration until
// shortly after it settles.
type Operation struct {
	ID         string
	Type       OpType
	Key        txn.EntityKey
	EntityID   string
	Status     OpStatus
	RetryCount int
	Err        error
	CreatedAt  time.Time
}

// State is the per-key sync summary.
type State struct {
	Status            Status
	LastSyncedAt      time.Time
	PendingOperations int
	Err               error
}

// EventType defines sync event types.
type EventType string

const (
	EventSyncStarted   EventType = "sync_started"
	EventSyncCompleted EventType = "sync_completed"
	EventSyncFailed    EventType = "sync_failed"
)

// Event is delivered synchronously to registered listeners. A started
// event fires once per persist attempt, so a retried operation emits
// it more than once.
type Event struct {
	Type        EventType
	Key         txn.EntityKey
	OperationID string
	Timestamp   time.Time
	Err         error
}

// DefaultOpRetention is how long settled operations stay visible to
// introspection before removal.
const DefaultOpRetention = 100 * time.Millisecond

// Config contains sync service configuration.
type Config struct {
	OpRetention time.Duration
}

// RemotePersist pushes one session to the remote store. Any error is
// retryable from the transaction manager's point of view.
type RemotePersist func(ctx context.Context, clientID, productID string, session *models.Session) error

// Service keeps a client workspace tree consistent with the remote
// store. The tree itself lives with the caller: operations read the
// current root through a getter supplied per call and publish updated
// roots through the updateLocal sink, so the service never caches
// domain state of its own.
type Service struct {
	manager     *txn.Manager
	persist     RemotePersist
	updateLocal func(*models.Client)
	retention   time.Duration
	logger      *events.Logger

	mu        sync.Mutex
	ops       map[string]*Operation
	states    map[txn.EntityKey]*State
	listeners map[int]func(Event)
	nextSub   int
}

// NewService creates a sync service. updateLocal receives every
// optimistic state and every rollback.
func NewService(manager *txn.Manager, persist RemotePersist, updateLocal func(*models.Client), cfg *Config, logger *events.Logger) *Service {
	retention := DefaultOpRetention
	if cfg != nil && cfg.OpRetention > 0 {
		retention = cfg.OpRetention
	}
	if logger == nil {
		logger = events.Discard()
	}
	if updateLocal == nil {
		updateLocal = func(*models.Client) {}
	}

	return &Service{
		manager:     manager,
		persist:     persist,
		updateLocal: updateLocal,
		retention:   retention,
		logger:      logger.WithField("component", "sync"),
		ops:         make(map[string]*Operation),
		states:      make(map[txn.EntityKey]*State),
		listeners:   make(map[int]func(Event)),
	}
}

// AddListener registers an event listener and returns its remove
// function. Listeners run synchronously on the emitting goroutine.
func (s *Service) AddListener(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// State returns the key's sync summary. Unknown keys read as synced.
func (s *Service) State(key txn.EntityKey) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[key]; ok {
		return *st
	}
	return State{Status: StatusSynced}
}

// IsSyncing reports whether the key has sync work in flight.
func (s *Service) IsSyncing(key txn.EntityKey) bool {
	st := s.State(key)
	return st.Status == StatusSyncing || st.PendingOperations > 0
}

// PendingOperations returns operations that have not settled yet,
// oldest first.
func (s *Service) PendingOperations() []Operation {
	return s.operations(func(op *Operation) bool {
		return op.Status == OpPending || op.Status == OpSyncing
	})
}

// FailedOperations returns recently failed operations, oldest first.
// Settled operations are dropped after the retention delay, so this
// covers a short trailing window only.
func (s *Service) FailedOperations() []Operation {
	return s.operations(func(op *Operation) bool {
		return op.Status == OpFailed
	})
}

func (s *Service) operations(keep func(*Operation) bool) []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Operation, 0, len(s.ops))
	for _, op := range s.ops {
		if keep(op) {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// emit delivers an event to all listeners without holding the mutex.
func (s *Service) emit(ev Event) {
	s.mu.Lock()
	listeners := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// register tracks a new operation and bumps the key's pending count.
func (s *Service) register(opType OpType, key txn.EntityKey, entityID string) *Operation {
	op := &Operation{
		ID:        uuid.NewString(),
		Type:      opType,
		Key:       key,
		EntityID:  entityID,
		Status:    OpPending,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.ops[op.ID] = op
	st := s.stateLocked(key)
	st.PendingOperations++
	s.mu.Unlock()

	return op
}

// markSyncing flags the operation and its key for one persist attempt.
func (s *Service) markSyncing(op *Operation, attempt int) {
	s.mu.Lock()
	op.Status = OpSyncing
	op.RetryCount = attempt - 1
	st := s.stateLocked(op.Key)
	st.Status = StatusSyncing
	s.mu.Unlock()
}

// settle records the operation's terminal status, updates the key
// state, emits the terminal event, and schedules removal. The pending
// count drops on both outcomes so a failed operation cannot pin the
// key in a syncing state forever.
func (s *Service) settle(op *Operation, err error) {
	now := time.Now().UTC()

	s.mu.Lock()
	st := s.stateLocked(op.Key)
	st.PendingOperations--
	if err == nil {
		op.Status = OpCompleted
		st.Status = StatusSynced
		st.LastSyncedAt = now
		st.Err = nil
	} else {
		op.Status = OpFailed
		op.Err = err
		st.Status = StatusError
		st.Err = err
	}
	s.mu.Unlock()

	evType := EventSyncCompleted
	if err != nil {
		evType = EventSyncFailed
	}
	s.emit(Event{
		Type:        evType,
		Key:         op.Key,
		OperationID: op.ID,
		Timestamp:   now,
		Err:         err,
	})

	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.ops, op.ID)
		s.mu.Unlock()
	})
}

// markConflict flags a key whose remote copy diverged from local work.
func (s *Service) markConflict(key txn.EntityKey) {
	s.mu.Lock()
	st := s.stateLocked(key)
	st.Status = StatusConflict
	s.mu.Unlock()
}

// stateLocked returns the key's mutable state. Callers hold s.mu.
func (s *Service) stateLocked(key txn.EntityKey) *State {
	st, ok := s.states[key]
	if !ok {
		st = &State{Status: StatusSynced}
		s.states[key] = st
	}
	return st
}
