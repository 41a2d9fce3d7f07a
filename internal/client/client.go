// Package client wires the scenesync services into one facade used by
// the CLI and embedding programs.
package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scenergy/scenesync/internal/config"
	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
	"github.com/scenergy/scenesync/internal/services/auth"
	"github.com/scenergy/scenesync/internal/services/jobs"
	"github.com/scenergy/scenesync/internal/services/sync"
	"github.com/scenergy/scenesync/internal/state"
	"github.com/scenergy/scenesync/internal/storage"
	"github.com/scenergy/scenesync/internal/transport"
	"github.com/scenergy/scenesync/internal/txn"
)

// waitPollInterval paces WaitForJobs checks between ticker fires.
const waitPollInterval = 100 * time.Millisecond

// Client is the top-level scenesync facade. Services are exported for
// direct access; the facade methods cover the common flows.
type Client struct {
	Auth      *auth.Service
	Sync      *sync.Service
	Jobs      *jobs.Watcher
	API       transport.API
	Snapshots state.Store
	Assets    storage.AssetStore
	Workspace *Workspace

	config *config.Config
	logger *events.Logger
}

// New creates a fully wired client from configuration.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = events.Discard()
	}

	api := transport.NewAPI(&cfg.API, logger)

	tokenFile := cfg.Auth.TokenFile
	if tokenFile == "" {
		tokenFile = filepath.Join(cfg.Storage.StateDir, "auth", "token.json")
	}
	if strings.HasPrefix(tokenFile, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			tokenFile = filepath.Join(homeDir, tokenFile[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(tokenFile), 0700); err != nil {
		logger.WithError(err).Warn("Failed to create token directory")
	}

	authService := auth.NewService(api, tokenFile, logger)
	if err := authService.Load(); err != nil {
		logger.WithError(err).Warn("Failed to load stored token")
	}

	var (
		snapshots state.Store
		err       error
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		snapshots, err = state.NewSQLiteStore(filepath.Join(cfg.Storage.StateDir, "snapshots.db"), logger)
	default:
		snapshots, err = state.NewJSONStore(cfg.Storage.StateDir, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	assets, err := storage.NewLocalStore(cfg.Storage.AssetsDir, logger)
	if err != nil {
		_ = snapshots.Close()
		return nil, fmt.Errorf("open asset store: %w", err)
	}

	workspace := NewWorkspace()

	locks := txn.NewLockTable(cfg.Sync.LockTimeout, logger)
	manager := txn.NewManager(locks, cfg.Sync.MaxRetries, cfg.Sync.RetryDelay, logger)

	syncService := sync.NewService(manager, api.UpdateSession, workspace.Set,
		&sync.Config{OpRetention: cfg.Sync.OpRetention}, logger)

	watcher, err := jobs.NewWatcher(api, syncService, workspace.Get,
		&jobs.WatcherConfig{Interval: cfg.Jobs.PollInterval, MaxPolls: cfg.Jobs.MaxPolls}, logger)
	if err != nil {
		_ = snapshots.Close()
		return nil, fmt.Errorf("create job watcher: %w", err)
	}

	watcher.OnSessionUpdate = sessionRefreshHook(syncService, locks, workspace, logger)

	return &Client{
		Auth:      authService,
		Sync:      syncService,
		Jobs:      watcher,
		API:       api,
		Snapshots: snapshots,
		Assets:    assets,
		Workspace: workspace,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Close stops background work and releases held resources.
func (c *Client) Close() error {
	c.Jobs.Close()

	if err := c.API.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close transport")
	}

	return c.Snapshots.Close()
}

// Pull fetches the full workspace tree for a client, publishes it, and
// refreshes the stored snapshot. Pending jobs whose messages are still
// generating carry over so a later resume can pick them back up.
func (c *Client) Pull(ctx context.Context, clientID string) (*models.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	ctx = events.WithClientID(ctx, clientID)
	ctx = events.WithRequestID(ctx, uuid.NewString())

	tree, err := c.API.FetchClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	c.Workspace.Set(tree)

	snap := &state.Snapshot{
		Client:    tree,
		FetchedAt: time.Now().UTC(),
	}
	if prev, err := c.Snapshots.Load(clientID); err == nil {
		snap.PendingJobs = livePendingJobs(prev.PendingJobs, tree)
	}

	if err := c.Snapshots.Save(clientID, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"client_id": clientID,
		"products":  len(tree.Products),
	}).Info("Workspace pulled")

	return tree, nil
}

// Resume loads the stored snapshot, publishes its tree, and re-watches
// every pending job recorded in it.
func (c *Client) Resume(clientID string) (*state.Snapshot, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	snap, err := c.Snapshots.Load(clientID)
	if err != nil {
		return nil, err
	}

	c.Workspace.Set(snap.Client)

	for _, job := range snap.PendingJobs {
		c.Jobs.Watch(job.JobID, jobs.MessageJob{
			ClientID:  job.ClientID,
			ProductID: job.ProductID,
			SessionID: job.SessionID,
			MessageID: job.MessageID,
		})
	}

	c.logger.WithFields(map[string]interface{}{
		"client_id":    clientID,
		"pending_jobs": len(snap.PendingJobs),
	}).Info("Workspace resumed")

	return snap, nil
}

// SendPrompt appends a user message and a pending assistant
// placeholder to a session, persists the session remotely, and starts
// watching the generation job minted for the placeholder. Returns the
// placeholder so callers can follow its progress in the tree.
func (c *Client) SendPrompt(ctx context.Context, clientID, productID, sessionID, content string) (*models.Message, error) {
	if c.Workspace.Get() == nil {
		return nil, fmt.Errorf("no workspace loaded: pull or resume first")
	}

	ctx = events.WithClientID(ctx, clientID)
	ctx = events.WithSessionID(ctx, sessionID)
	ctx = events.WithRequestID(ctx, uuid.NewString())

	userMsg := models.NewUserMessage(content)
	jobID := uuid.NewString()
	placeholder := models.NewAssistantMessage(jobID)

	err := c.Sync.AddMessagesToSession(ctx, c.Workspace.Get, clientID, productID, sessionID, userMsg, placeholder)
	if err != nil {
		return nil, err
	}

	c.recordPendingJob(clientID, state.PendingJob{
		JobID:     jobID,
		ClientID:  clientID,
		ProductID: productID,
		SessionID: sessionID,
		MessageID: placeholder.ID,
		CreatedAt: time.Now().UTC(),
	})

	c.Jobs.Watch(jobID, jobs.MessageJob{
		ClientID:  clientID,
		ProductID: productID,
		SessionID: sessionID,
		MessageID: placeholder.ID,
	})

	c.logger.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"job_id":     jobID,
	}).Info("Prompt sent")

	return placeholder, nil
}

// recordPendingJob folds one new job into the stored snapshot. The
// snapshot is a cache and the remote store already has the session, so
// failures are logged rather than returned.
func (c *Client) recordPendingJob(clientID string, job state.PendingJob) {
	snap, err := c.Snapshots.Load(clientID)
	if err != nil {
		snap = &state.Snapshot{FetchedAt: time.Now().UTC()}
	}
	snap.Client = c.Workspace.Get()
	snap.AddPendingJob(job)

	if err := c.Snapshots.Save(clientID, snap); err != nil {
		c.logger.WithError(err).Warn("Failed to save snapshot")
	}
}

// SaveSnapshot captures the current workspace tree into the snapshot
// store, dropping pending jobs that have since finished.
func (c *Client) SaveSnapshot(clientID string) error {
	root := c.Workspace.Get()
	if root == nil {
		return fmt.Errorf("no workspace loaded")
	}

	snap := &state.Snapshot{
		Client:    root,
		FetchedAt: time.Now().UTC(),
	}
	if prev, err := c.Snapshots.Load(clientID); err == nil {
		if !prev.FetchedAt.IsZero() {
			snap.FetchedAt = prev.FetchedAt
		}
		snap.PendingJobs = livePendingJobs(prev.PendingJobs, root)
	}

	return c.Snapshots.Save(clientID, snap)
}

// WaitForJobs blocks until every watched job has finished and the sync
// queue has drained, or ctx is done.
func (c *Client) WaitForJobs(ctx context.Context) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if len(c.Jobs.Watching()) == 0 && len(c.Sync.PendingOperations()) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WatchLive streams the client's live feed, applying job updates
// through the watcher and session updates through the sync refresh
// path. Blocks until the stream ends or ctx is cancelled.
func (c *Client) WatchLive(ctx context.Context, clientID string) error {
	return c.Jobs.WatchLive(ctx, c.API, clientID)
}

// DownloadAssets fetches the images a message references and stores
// any that are not already on disk. Returns the paths written.
func (c *Client) DownloadAssets(ctx context.Context, clientID string, msg *models.Message) ([]string, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is required")
	}

	ctx = events.WithClientID(ctx, clientID)

	var paths []string
	for _, imageID := range msg.ImageIDs {
		name := assetName(clientID, imageID)
		if c.Assets.Exists(name) {
			c.logger.WithField("image_id", imageID).Debug("Asset already stored")
			continue
		}

		data, err := c.API.DownloadAsset(ctx, imageID)
		if err != nil {
			return paths, err
		}

		path, err := c.Assets.Write(name, data)
		if err != nil {
			return paths, fmt.Errorf("store asset %s: %w", imageID, err)
		}
		paths = append(paths, path)
	}

	return paths, nil
}

// assetName places rendered images under their client's directory. The
// render pipeline produces PNGs, so the extension is fixed.
func assetName(clientID, imageID string) string {
	return fmt.Sprintf("%s/%s.png", clientID, imageID)
}

// sessionRefreshHook routes live session frames into the sync refresh
// path, sampling the session's version right before applying so local
// writes that raced the frame win.
func sessionRefreshHook(svc *sync.Service, locks *txn.LockTable, ws *Workspace, logger *events.Logger) func(string, *models.SessionUpdateEvent) {
	return func(clientID string, ev *models.SessionUpdateEvent) {
		if ev.Session == nil {
			return
		}

		key := txn.SessionKey(clientID, ev.ProductID, ev.Session.ID)
		expected := 0
		if v, ok := locks.Version(key); ok {
			expected = v.Version
		}

		err := svc.RefreshSession(context.Background(), ws.Get, clientID, ev.ProductID, ev.Session, expected)
		if err != nil {
			logger.WithError(err).WithField("session_id", ev.Session.ID).Warn("live session update not applied")
		}
	}
}

// livePendingJobs keeps jobs whose assistant message still exists in
// the tree and has not reached a terminal state.
func livePendingJobs(pending []state.PendingJob, tree *models.Client) []state.PendingJob {
	var live []state.PendingJob
	for _, job := range pending {
		product, ok := tree.Product(job.ProductID)
		if !ok {
			continue
		}
		session, ok := product.Session(job.SessionID)
		if !ok {
			continue
		}
		msg, ok := session.Message(job.MessageID)
		if !ok || msg.Status.Terminal() {
			continue
		}
		live = append(live, job)
	}
	return live
}
