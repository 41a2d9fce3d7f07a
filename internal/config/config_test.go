package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenergy/scenesync/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotEmpty(t, cfg.API.BaseURL)
	assert.Positive(t, cfg.API.Timeout)
	assert.NotEmpty(t, cfg.Storage.DataDir)
	assert.Equal(t, "json", cfg.Storage.Backend)
	assert.Positive(t, cfg.Sync.LockTimeout)
	assert.Positive(t, cfg.Jobs.PollInterval)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name: "valid config",
			modify: func(c *config.Config) {
				// No modifications
			},
			wantErr: "",
		},
		{
			name: "missing base URL",
			modify: func(c *config.Config) {
				c.API.BaseURL = ""
			},
			wantErr: "api.base_url is required",
		},
		{
			name: "negative timeout",
			modify: func(c *config.Config) {
				c.API.Timeout = -1
			},
			wantErr: "api.timeout must be positive",
		},
		{
			name: "unknown storage backend",
			modify: func(c *config.Config) {
				c.Storage.Backend = "etcd"
			},
			wantErr: "invalid storage backend",
		},
		{
			name: "zero sync retries",
			modify: func(c *config.Config) {
				c.Sync.MaxRetries = 0
			},
			wantErr: "sync.max_retries must be positive",
		},
		{
			name: "zero lock timeout",
			modify: func(c *config.Config) {
				c.Sync.LockTimeout = 0
			},
			wantErr: "sync.lock_timeout must be positive",
		},
		{
			name: "zero poll interval",
			modify: func(c *config.Config) {
				c.Jobs.PollInterval = 0
			},
			wantErr: "jobs.poll_interval must be positive",
		},
		{
			name: "invalid log level",
			modify: func(c *config.Config) {
				c.Log.Level = "loud"
			},
			wantErr: "invalid log level",
		},
		{
			name: "invalid log format",
			modify: func(c *config.Config) {
				c.Log.Format = "xml"
			},
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Setenv("SCENESYNC_API_BASE_URL", "https://test.example.com")
	t.Setenv("SCENESYNC_API_TIMEOUT", "45s")
	t.Setenv("SCENESYNC_SYNC_LOCK_TIMEOUT", "250ms")
	t.Setenv("SCENESYNC_JOBS_MAX_POLLS", "7")
	t.Setenv("SCENESYNC_LOG_LEVEL", "debug")
	t.Setenv("SCENESYNC_LOG_COLOR", "false")

	loader := config.NewLoader("")
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://test.example.com", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.LockTimeout)
	assert.Equal(t, 7, cfg.Jobs.MaxPolls)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Color)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.json")

	configJSON := `{
		"api": {
			"base_url": "https://file.example.com",
			"timeout": "90s"
		},
		"sync": {
			"max_retries": 5
		},
		"log": {
			"level": "warn",
			"format": "json"
		}
	}`

	err := os.WriteFile(configPath, []byte(configJSON), 0644)
	require.NoError(t, err)

	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.API.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.API.Timeout)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched sections keep their defaults.
	assert.Equal(t, config.DefaultConfig().Jobs.PollInterval, cfg.Jobs.PollInterval)
	assert.Equal(t, config.DefaultConfig().Storage.Backend, cfg.Storage.Backend)
}

func TestLoaderEnvBeatsFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.json")

	configJSON := `{"api": {"base_url": "https://file.example.com"}}`
	require.NoError(t, os.WriteFile(configPath, []byte(configJSON), 0644))

	t.Setenv("SCENESYNC_API_BASE_URL", "https://env.example.com")

	cfg, err := config.NewLoader(configPath).Load()

	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
}

func TestLoaderExplicitFileMissing(t *testing.T) {
	loader := config.NewLoader(filepath.Join(t.TempDir(), "nope.json"))

	_, err := loader.Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.json")

	configJSON := `{"log": {"level": "loud"}}`
	require.NoError(t, os.WriteFile(configPath, []byte(configJSON), 0644))

	_, err := config.NewLoader(configPath).Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Storage.StateDir = filepath.Join(tmpDir, "data", "state")
	cfg.Storage.AssetsDir = filepath.Join(tmpDir, "data", "assets")
	cfg.Auth.TokenFile = filepath.Join(tmpDir, "data", "token.json")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")

	err := cfg.EnsureDirectories()
	require.NoError(t, err)

	assert.DirExists(t, cfg.Storage.DataDir)
	assert.DirExists(t, cfg.Storage.StateDir)
	assert.DirExists(t, cfg.Storage.AssetsDir)
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
}
