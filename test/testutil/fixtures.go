package testutil

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/scenergy/scenesync/internal/config"
	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
)

// DemoTree builds a small workspace: two products, each with one scene
// session and no messages yet.
func DemoTree(clientID string) *models.Client {
	now := time.Now().UTC().Truncate(time.Second)

	return &models.Client{
		ID:   clientID,
		Name: "Atelier Nord",
		Products: []*models.Product{
			{
				ID:   "prod-chair",
				Name: "Oslo Lounge Chair",
				SKU:  "VS-204",
				Sessions: []*models.Session{
					{
						ID:          "sess-showroom",
						Title:       "Showroom shots",
						ScenePreset: "studio_white",
						CreatedAt:   now,
						UpdatedAt:   now,
					},
				},
				CreatedAt: now,
				UpdatedAt: now,
			},
			{
				ID:   "prod-sofa",
				Name: "Bergen Sofa",
				SKU:  "VS-310",
				Sessions: []*models.Session{
					{
						ID:          "sess-catalogue",
						Title:       "Catalogue spread",
						ScenePreset: "living_room",
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

// NewTestLogger returns a logger that stays quiet unless something
// goes wrong.
func NewTestLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "json", io.Discard)
}

// TestConfig points every path under dir and every endpoint at the
// given server, with timings tightened for tests.
func TestConfig(dir, serverURL string) *config.Config {
	cfg := config.DefaultConfig()

	cfg.API.BaseURL = serverURL
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MaxRetries = 1

	cfg.Auth.TokenFile = filepath.Join(dir, "token.json")
	cfg.Storage.DataDir = dir
	cfg.Storage.StateDir = filepath.Join(dir, "state")
	cfg.Storage.AssetsDir = filepath.Join(dir, "assets")

	cfg.Sync.RetryDelay = 10 * time.Millisecond
	cfg.Sync.OpRetention = 50 * time.Millisecond

	cfg.Jobs.PollInterval = 20 * time.Millisecond
	cfg.Jobs.MaxPolls = 200

	cfg.Log.Level = "error"
	cfg.Log.Format = "json"

	return cfg
}

// WaitForCondition polls until cond holds or the timeout expires.
func WaitForCondition(t *testing.T, cond func() bool, timeout time.Duration, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, message)
}
