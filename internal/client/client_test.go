package client

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenergy/scenesync/internal/config"
	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
	"github.com/scenergy/scenesync/internal/services/auth"
	"github.com/scenergy/scenesync/internal/services/jobs"
	syncsvc "github.com/scenergy/scenesync/internal/services/sync"
	"github.com/scenergy/scenesync/internal/state"
	"github.com/scenergy/scenesync/internal/storage"
	"github.com/scenergy/scenesync/internal/transport"
	"github.com/scenergy/scenesync/internal/txn"
)

func newTestClient(t *testing.T, api transport.API) *Client {
	t.Helper()

	logger := events.NewTestLogger(events.ErrorLevel, "json", io.Discard)

	workspace := NewWorkspace()
	locks := txn.NewLockTable(time.Second, logger)
	manager := txn.NewManager(locks, 2, 5*time.Millisecond, logger)
	syncService := syncsvc.NewService(manager, api.UpdateSession, workspace.Set,
		&syncsvc.Config{OpRetention: 50 * time.Millisecond}, logger)

	watcher, err := jobs.NewWatcher(api, syncService, workspace.Get,
		&jobs.WatcherConfig{Interval: 10 * time.Millisecond, MaxPolls: 50}, logger)
	require.NoError(t, err)
	watcher.OnSessionUpdate = sessionRefreshHook(syncService, locks, workspace, logger)

	c := &Client{
		Auth:      auth.NewService(api, filepath.Join(t.TempDir(), "token.json"), logger),
		Sync:      syncService,
		Jobs:      watcher,
		API:       api,
		Snapshots: state.NewMockStore(),
		Assets:    storage.NewMockStore(),
		Workspace: workspace,
		config:    config.DefaultConfig(),
		logger:    logger,
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func renderTree(clientID string) *models.Client {
	now := time.Now().UTC().Truncate(time.Second)

	return &models.Client{
		ID:   clientID,
		Name: "Atelier Nord",
		Products: []*models.Product{
			{
				ID:   "p1",
				Name: "Oslo Lounge Chair",
				SKU:  "VS-204",
				Sessions: []*models.Session{
					{
						ID:          "s1",
						Title:       "Showroom shots",
						ScenePreset: "studio_white",
						CreatedAt:   now,
						UpdatedAt:   now,
					},
				},
				CreatedAt: now,
				UpdatedAt: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = tmpDir
	cfg.Storage.StateDir = filepath.Join(tmpDir, "state")
	cfg.Storage.AssetsDir = filepath.Join(tmpDir, "assets")
	cfg.Auth.TokenFile = filepath.Join(tmpDir, "token.json")

	c, err := New(cfg, nil)
	require.NoError(t, err)

	assert.NotNil(t, c.Auth)
	assert.NotNil(t, c.Sync)
	assert.NotNil(t, c.Jobs)
	assert.NotNil(t, c.API)
	assert.NotNil(t, c.Snapshots)
	assert.NotNil(t, c.Assets)
	assert.NotNil(t, c.Workspace)
	assert.NotNil(t, c.Jobs.OnSessionUpdate)
	assert.IsType(t, &state.JSONStore{}, c.Snapshots)

	assert.NoError(t, c.Close())
}

func TestNewSQLiteBackend(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = tmpDir
	cfg.Storage.StateDir = filepath.Join(tmpDir, "state")
	cfg.Storage.AssetsDir = filepath.Join(tmpDir, "assets")
	cfg.Storage.Backend = "sqlite"
	cfg.Auth.TokenFile = filepath.Join(tmpDir, "token.json")

	c, err := New(cfg, nil)
	require.NoError(t, err)

	assert.IsType(t, &state.SQLiteStore{}, c.Snapshots)
	assert.NoError(t, c.Close())
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestPullSavesSnapshot(t *testing.T) {
	api := transport.NewMockAPI()
	api.FetchClientFunc = func(ctx context.Context, clientID string) (*models.Client, error) {
		return renderTree(clientID), nil
	}

	c := newTestClient(t, api)

	tree, err := c.Pull(context.Background(), "client-1")
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, "Atelier Nord", tree.Name)

	assert.Same(t, tree, c.Workspace.Get())

	snap, err := c.Snapshots.Load("client-1")
	require.NoError(t, err)
	assert.Equal(t, "Atelier Nord", snap.Client.Name)
	assert.False(t, snap.FetchedAt.IsZero())
	assert.Empty(t, snap.PendingJobs)
}

func TestPullPrunesFinishedJobs(t *testing.T) {
	tree := renderTree("client-1")
	session := tree.Products[0].Sessions[0]
	session.Messages = []*models.Message{
		{ID: "m-live", Role: models.RoleAssistant, Status: models.JobGenerating, JobID: "job-live"},
		{ID: "m-done", Role: models.RoleAssistant, Status: models.JobCompleted, JobID: "job-done"},
	}

	api := transport.NewMockAPI()
	api.FetchClientFunc = func(ctx context.Context, clientID string) (*models.Client, error) {
		return tree, nil
	}

	c := newTestClient(t, api)

	pendingJob := func(jobID, messageID string) state.PendingJob {
		return state.PendingJob{
			JobID:     jobID,
			ClientID:  "client-1",
			ProductID: "p1",
			SessionID: "s1",
			MessageID: messageID,
			CreatedAt: time.Now().UTC(),
		}
	}
	c.Snapshots.(*state.MockStore).SaveSnapshot("client-1", &state.Snapshot{
		Client: renderTree("client-1"),
		PendingJobs: []state.PendingJob{
			pendingJob("job-live", "m-live"),
			pendingJob("job-done", "m-done"),
			pendingJob("job-gone", "m-gone"),
		},
	})

	_, err := c.Pull(context.Background(), "client-1")
	require.NoError(t, err)

	snap, err := c.Snapshots.Load("client-1")
	require.NoError(t, err)
	require.Len(t, snap.PendingJobs, 1)
	assert.Equal(t, "job-live", snap.PendingJobs[0].JobID)
}

func TestSendPrompt(t *testing.T) {
	var (
		mu       sync.Mutex
		uploaded []*models.Session
	)

	api := transport.NewMockAPI()
	api.FetchClientFunc = func(ctx context.Context, clientID string) (*models.Client, error) {
		return renderTree(clientID), nil
	}
	api.UpdateSessionFunc = func(ctx context.Context, clientID, productID string, session *models.Session) error {
		mu.Lock()
		defer mu.Unlock()
		uploaded = append(uploaded, session)
		return nil
	}
	api.JobStatusFunc = func(ctx context.Context, jobID string) (*models.JobStatus, error) {
		return &models.JobStatus{
			JobID:    jobID,
			State:    models.JobCompleted,
			Progress: 100,
			ImageIDs: []string{"img-render-1"},
		}, nil
	}

	c := newTestClient(t, api)

	_, err := c.Pull(context.Background(), "client-1")
	require.NoError(t, err)

	msg, err := c.SendPrompt(context.Background(), "client-1", "p1", "s1", "Render on oak flooring")
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, models.RoleAssistant, msg.Role)
	assert.Equal(t, models.JobPending, msg.Status)
	assert.NotEmpty(t, msg.JobID)

	mu.Lock()
	require.NotEmpty(t, uploaded)
	sent := uploaded[0]
	mu.Unlock()

	require.Len(t, sent.Messages, 2)
	assert.Equal(t, models.RoleUser, sent.Messages[0].Role)
	assert.Equal(t, "Render on oak flooring", sent.Messages[0].Content)
	assert.Equal(t, msg.ID, sent.Messages[1].ID)

	snap, err := c.Snapshots.Load("client-1")
	require.NoError(t, err)
	require.Len(t, snap.PendingJobs, 1)
	assert.Equal(t, msg.JobID, snap.PendingJobs[0].JobID)
	assert.Equal(t, msg.ID, snap.PendingJobs[0].MessageID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForJobs(ctx))

	assert.Empty(t, c.Jobs.Watching())

	product, ok := c.Workspace.Get().Product("p1")
	require.True(t, ok)
	session, ok := product.Session("s1")
	require.True(t, ok)
	final, ok := session.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobCompleted, final.Status)
	assert.Equal(t, []string{"img-render-1"}, final.ImageIDs)
}

func TestSendPromptRequiresWorkspace(t *testing.T) {
	c := newTestClient(t, transport.NewMockAPI())

	_, err := c.SendPrompt(context.Background(), "client-1", "p1", "s1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workspace loaded")
}

func TestResumeRewatchesPendingJobs(t *testing.T) {
	api := transport.NewMockAPI()
	api.JobStatusFunc = func(ctx context.Context, jobID string) (*models.JobStatus, error) {
		return &models.JobStatus{JobID: jobID, State: models.JobGenerating, Progress: 10}, nil
	}

	c := newTestClient(t, api)

	tree := renderTree("client-1")
	tree.Products[0].Sessions[0].Messages = []*models.Message{
		{ID: "m-a", Role: models.RoleAssistant, Status: models.JobGenerating, JobID: "job-a"},
		{ID: "m-b", Role: models.RoleAssistant, Status: models.JobGenerating, JobID: "job-b"},
	}
	c.Snapshots.(*state.MockStore).SaveSnapshot("client-1", &state.Snapshot{
		Client:    tree,
		FetchedAt: time.Now().UTC(),
		PendingJobs: []state.PendingJob{
			{JobID: "job-a", ClientID: "client-1", ProductID: "p1", SessionID: "s1", MessageID: "m-a"},
			{JobID: "job-b", ClientID: "client-1", ProductID: "p1", SessionID: "s1", MessageID: "m-b"},
		},
	})

	snap, err := c.Resume("client-1")
	require.NoError(t, err)
	assert.Len(t, snap.PendingJobs, 2)
	assert.NotNil(t, c.Workspace.Get())

	assert.ElementsMatch(t, []string{"job-a", "job-b"}, c.Jobs.Watching())

	c.Jobs.StopAll()
	assert.Empty(t, c.Jobs.Watching())
}

func TestResumeMissingSnapshot(t *testing.T) {
	c := newTestClient(t, transport.NewMockAPI())

	_, err := c.Resume("client-1")
	assert.ErrorIs(t, err, state.ErrSnapshotNotFound)
}

func TestSaveSnapshotKeepsFetchTime(t *testing.T) {
	api := transport.NewMockAPI()
	api.FetchClientFunc = func(ctx context.Context, clientID string) (*models.Client, error) {
		return renderTree(clientID), nil
	}

	c := newTestClient(t, api)

	_, err := c.Pull(context.Background(), "client-1")
	require.NoError(t, err)

	first, err := c.Snapshots.Load("client-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.SaveSnapshot("client-1"))

	second, err := c.Snapshots.Load("client-1")
	require.NoError(t, err)
	assert.Equal(t, first.FetchedAt.Unix(), second.FetchedAt.Unix())
}

func TestSaveSnapshotRequiresWorkspace(t *testing.T) {
	c := newTestClient(t, transport.NewMockAPI())

	err := c.SaveSnapshot("client-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workspace loaded")
}

func TestWaitForJobsContextCancelled(t *testing.T) {
	api := transport.NewMockAPI()
	api.JobStatusFunc = func(ctx context.Context, jobID string) (*models.JobStatus, error) {
		return &models.JobStatus{JobID: jobID, State: models.JobGenerating}, nil
	}

	c := newTestClient(t, api)
	c.Workspace.Set(renderTree("client-1"))
	c.Jobs.Watch("job-stuck", jobs.MessageJob{
		ClientID: "client-1", ProductID: "p1", SessionID: "s1", MessageID: "m-x",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.WaitForJobs(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownloadAssets(t *testing.T) {
	api := transport.NewMockAPI()
	api.DownloadAssetFunc = func(ctx context.Context, imageID string) ([]byte, error) {
		if imageID == "img-1" {
			return nil, fmt.Errorf("img-1 should not be fetched again")
		}
		return []byte("png data " + imageID), nil
	}

	c := newTestClient(t, api)

	_, err := c.Assets.Write("client-1/img-1.png", []byte("already here"))
	require.NoError(t, err)

	msg := &models.Message{
		ID:       "m1",
		Role:     models.RoleAssistant,
		Status:   models.JobCompleted,
		ImageIDs: []string{"img-1", "img-2"},
	}

	paths, err := c.DownloadAssets(context.Background(), "client-1", msg)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "client-1/img-2.png", paths[0])

	data, err := c.Assets.Read("client-1/img-2.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png data img-2"), data)
}

func TestDownloadAssetsPropagatesErrors(t *testing.T) {
	api := transport.NewMockAPI()
	api.DownloadAssetFunc = func(ctx context.Context, imageID string) ([]byte, error) {
		if imageID == "img-bad" {
			return nil, fmt.Errorf("download asset img-bad: server error")
		}
		return []byte("ok"), nil
	}

	c := newTestClient(t, api)

	msg := &models.Message{
		ID:       "m1",
		ImageIDs: []string{"img-good", "img-bad"},
	}

	paths, err := c.DownloadAssets(context.Background(), "client-1", msg)
	require.Error(t, err)
	assert.Len(t, paths, 1)
}

func TestSessionRefreshHookAppliesRemoteSession(t *testing.T) {
	api := transport.NewMockAPI()
	api.FetchClientFunc = func(ctx context.Context, clientID string) (*models.Client, error) {
		return renderTree(clientID), nil
	}

	c := newTestClient(t, api)

	_, err := c.Pull(context.Background(), "client-1")
	require.NoError(t, err)

	remote := &models.Session{
		ID:          "s1",
		Title:       "Renamed remotely",
		ScenePreset: "studio_white",
		Messages: []*models.Message{
			{ID: "m-remote", Role: models.RoleUser, Content: "from another device"},
		},
		UpdatedAt: time.Now().UTC(),
	}

	c.Jobs.OnSessionUpdate("client-1", &models.SessionUpdateEvent{
		ProductID: "p1",
		Session:   remote,
	})

	product, ok := c.Workspace.Get().Product("p1")
	require.True(t, ok)
	session, ok := product.Session("s1")
	require.True(t, ok)
	assert.Equal(t, "Renamed remotely", session.Title)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, "m-remote", session.Messages[0].ID)
}
