package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/scenergy/scenesync/internal/models"
	"github.com/scenergy/scenesync/internal/txn"
)

// mutation bundles one workspace change for the transaction runner.
// apply must be pure; when the target path is missing it returns the
// root unchanged and the persist lookup reports the missing entity.
type mutation struct {
	opType    OpType
	entityID  string
	clientID  string
	productID string
	sessionID string
	root      func() *models.Client
	apply     func(*models.Client) *models.Client
}

// run executes one mutation as an optimistic transaction: register the
// operation, apply and publish the update, then persist the target
// session with retries. Every persist attempt marks the key syncing
// and emits a started event; the operation settles on either outcome.
func (s *Service) run(ctx context.Context, mut mutation) error {
	key := txn.SessionKey(mut.clientID, mut.productID, mut.sessionID)
	op := s.register(mut.opType, key, mut.entityID)

	attempt := 0
	req := txn.Request[*models.Client, struct{}]{
		Key:     key,
		Read:    mut.root,
		Apply:   mut.apply,
		Publish: s.updateLocal,
		Persist: func(ctx context.Context, updated *models.Client) (struct{}, error) {
			attempt++
			s.markSyncing(op, attempt)
			s.emit(Event{
				Type:        EventSyncStarted,
				Key:         key,
				OperationID: op.ID,
				Timestamp:   time.Now().UTC(),
			})

			prod, ok := updated.Product(mut.productID)
			if !ok {
				return struct{}{}, &models.NotFoundError{Kind: "product", ID: mut.productID}
			}
			sess, ok := prod.Session(mut.sessionID)
			if !ok {
				return struct{}{}, &models.NotFoundError{Kind: "session", ID: mut.sessionID}
			}

			return struct{}{}, s.persist(ctx, mut.clientID, mut.productID, sess)
		},
	}

	_, err := txn.Execute(ctx, s.manager, req, txn.Options{})
	s.settle(op, err)
	return err
}

// AddMessagesToSession appends messages to a session and persists the
// updated session. Message content is normalized and the appended
// copies are detached from the caller's values. The tracked entity ID
// is the first message's ID.
func (s *Service) AddMessagesToSession(ctx context.Context, root func() *models.Client, clientID, productID, sessionID string, msgs ...*models.Message) error {
	if root == nil {
		return fmt.Errorf("read state callback is required")
	}
	if clientID == "" || productID == "" || sessionID == "" {
		return fmt.Errorf("client, product and session IDs are required")
	}
	if len(msgs) == 0 {
		return nil
	}

	return s.run(ctx, mutation{
		opType:    OpAddMessage,
		entityID:  msgs[0].ID,
		clientID:  clientID,
		productID: productID,
		sessionID: sessionID,
		root:      root,
		apply: func(current *models.Client) *models.Client {
			updated, err := current.CloneWithSession(productID, sessionID, func(sess *models.Session) {
				for _, m := range msgs {
					msg := *m
					msg.Content = models.NormalizeText(msg.Content)
					sess.Messages = append(sess.Messages, &msg)
				}
			})
			if err != nil {
				return current
			}
			return updated
		},
	})
}

// UpdateMessageInSession merges a patch into one message and persists
// the updated session. A message ID with no match inside an existing
// session is logged and treated as a successful no-op; a missing
// product or session is a persist failure.
func (s *Service) UpdateMessageInSession(ctx context.Context, root func() *models.Client, clientID, productID, sessionID, messageID string, patch models.MessagePatch) error {
	if root == nil {
		return fmt.Errorf("read state callback is required")
	}
	if clientID == "" || productID == "" || sessionID == "" || messageID == "" {
		return fmt.Errorf("client, product, session and message IDs are required")
	}

	return s.run(ctx, mutation{
		opType:    OpUpdateMessage,
		entityID:  messageID,
		clientID:  clientID,
		productID: productID,
		sessionID: sessionID,
		root:      root,
		apply: func(current *models.Client) *models.Client {
			updated, err := current.CloneWithSession(productID, sessionID, func(sess *models.Session) {
				for i, m := range sess.Messages {
					if m.ID != messageID {
						continue
					}
					msg := *m
					patch.Apply(&msg)
					sess.Messages[i] = &msg
					return
				}
				s.logger.WithFields(map[string]interface{}{
					"session_id": sessionID,
					"message_id": messageID,
				}).Warn("message not found in session, update skipped")
			})
			if err != nil {
				return current
			}
			return updated
		},
	})
}

// AddSessionToProduct upserts a session into a product and persists
// it. An existing session with the same ID is replaced wholesale.
func (s *Service) AddSessionToProduct(ctx context.Context, root func() *models.Client, clientID, productID string, session *models.Session) error {
	if root == nil {
		return fmt.Errorf("read state callback is required")
	}
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if clientID == "" || productID == "" || session.ID == "" {
		return fmt.Errorf("client, product and session IDs are required")
	}

	return s.run(ctx, mutation{
		opType:    OpAddSession,
		entityID:  session.ID,
		clientID:  clientID,
		productID: productID,
		sessionID: session.ID,
		root:      root,
		apply: func(current *models.Client) *models.Client {
			updated, err := current.CloneWithProduct(productID, func(p *models.Product) {
				upsertSession(p, session)
			})
			if err != nil {
				return current
			}
			return updated
		},
	})
}

// UpdateSessionMeta updates a session's title and scene preset and
// persists it. Empty values leave the corresponding field unchanged.
func (s *Service) UpdateSessionMeta(ctx context.Context, root func() *models.Client, clientID, productID, sessionID, title, scenePreset string) error {
	if root == nil {
		return fmt.Errorf("read state callback is required")
	}
	if clientID == "" || productID == "" || sessionID == "" {
		return fmt.Errorf("client, product and session IDs are required")
	}

	return s.run(ctx, mutation{
		opType:    OpUpdateSession,
		entityID:  sessionID,
		clientID:  clientID,
		productID: productID,
		sessionID: sessionID,
		root:      root,
		apply: func(current *models.Client) *models.Client {
			updated, err := current.CloneWithSession(productID, sessionID, func(sess *models.Session) {
				if title != "" {
					sess.Title = models.NormalizeText(title)
				}
				if scenePreset != "" {
					sess.ScenePreset = scenePreset
				}
			})
			if err != nil {
				return current
			}
			return updated
		},
	})
}

// RefreshSession replaces the local copy of a session with a remotely
// fetched one through the regular publish path. expectedVersion is the
// key's version sampled when the fetch began: if sync work is pending
// for the key or the version moved since, the key is marked conflict
// and the remote copy is dropped so in-flight local changes win.
// Refreshes bypass operation tracking and do not advance the version.
func (s *Service) RefreshSession(ctx context.Context, root func() *models.Client, clientID, productID string, remote *models.Session, expectedVersion int) error {
	if root == nil {
		return fmt.Errorf("read state callback is required")
	}
	if remote == nil {
		return fmt.Errorf("remote session is required")
	}
	if clientID == "" || productID == "" || remote.ID == "" {
		return fmt.Errorf("client, product and session IDs are required")
	}

	key := txn.SessionKey(clientID, productID, remote.ID)
	locks := s.manager.Locks()
	logger := s.logger.WithField("key", key.String())

	if s.IsSyncing(key) || !locks.Validate(key, expectedVersion) {
		s.markConflict(key)
		logger.Info("remote session dropped, local changes in flight")
		return nil
	}

	if err := locks.Acquire(ctx, key); err != nil {
		return err
	}
	defer locks.Release(key)

	// A writer may have slipped in between the check and the lock.
	if s.IsSyncing(key) || !locks.Validate(key, expectedVersion) {
		s.markConflict(key)
		logger.Info("remote session dropped, local changes in flight")
		return nil
	}

	current := root()
	if current == nil {
		return fmt.Errorf("no local tree to refresh")
	}

	updated, err := current.CloneWithProduct(productID, func(p *models.Product) {
		upsertSession(p, remote)
	})
	if err != nil {
		return fmt.Errorf("refresh session %s: %w", remote.ID, err)
	}

	s.updateLocal(updated)

	s.mu.Lock()
	st := s.stateLocked(key)
	st.Status = StatusSynced
	st.LastSyncedAt = time.Now().UTC()
	st.Err = nil
	s.mu.Unlock()

	logger.Debug("session refreshed from remote")
	return nil
}

// upsertSession replaces the product's session with the same ID, or
// appends when none matches. The stored copy shares messages with the
// input but not the slice itself.
func upsertSession(p *models.Product, session *models.Session) {
	sess := *session
	sess.Messages = append([]*models.Message(nil), session.Messages...)

	for i, existing := range p.Sessions {
		if existing.ID == sess.ID {
			p.Sessions[i] = &sess
			return
		}
	}
	p.Sessions = append(p.Sessions, &sess)
}
