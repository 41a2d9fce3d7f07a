package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api" mapstructure:"api"`

	// Authentication configuration
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Job polling behavior
	Jobs JobsConfig `json:"jobs" mapstructure:"jobs"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
}

// AuthConfig for authentication settings. Passwords are never stored;
// the CLI prompts for them.
type AuthConfig struct {
	Email     string `json:"email,omitempty" mapstructure:"email"`
	TokenFile string `json:"token_file" mapstructure:"token_file"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir   string `json:"data_dir" mapstructure:"data_dir"`     // Base directory for all data
	StateDir  string `json:"state_dir" mapstructure:"state_dir"`   // Workspace snapshots
	AssetsDir string `json:"assets_dir" mapstructure:"assets_dir"` // Downloaded renders
	Backend   string `json:"backend" mapstructure:"backend"`       // Snapshot backend: json or sqlite
}

// SyncConfig for write-behind synchronization behavior.
type SyncConfig struct {
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`   // Persist attempts per operation
	RetryDelay  time.Duration `json:"retry_delay" mapstructure:"retry_delay"`   // Initial retry delay
	LockTimeout time.Duration `json:"lock_timeout" mapstructure:"lock_timeout"` // Per-session lock acquire timeout
	OpRetention time.Duration `json:"op_retention" mapstructure:"op_retention"` // How long settled operations stay visible
}

// JobsConfig for render job polling.
type JobsConfig struct {
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"` // Delay between status checks
	MaxPolls     int           `json:"max_polls" mapstructure:"max_polls"`         // Checks before a job is abandoned
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stdout)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".scenesync"

	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.scenergy.io/v1",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "scenesync/0.1.0",
		},
		Auth: AuthConfig{
			TokenFile: filepath.Join(dataDir, "token.json"),
		},
		Storage: StorageConfig{
			DataDir:   dataDir,
			StateDir:  filepath.Join(dataDir, "state"),
			AssetsDir: filepath.Join(dataDir, "assets"),
			Backend:   "json",
		},
		Sync: SyncConfig{
			MaxRetries:  3,
			RetryDelay:  time.Second,
			LockTimeout: 5 * time.Second,
			OpRetention: 100 * time.Millisecond,
		},
		Jobs: JobsConfig{
			PollInterval: 5 * time.Second,
			MaxPolls:     40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must not be negative")
	}

	validBackends := map[string]bool{"json": true, "sqlite": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if c.Sync.MaxRetries <= 0 {
		return errors.New("sync.max_retries must be positive")
	}

	if c.Sync.RetryDelay <= 0 {
		return errors.New("sync.retry_delay must be positive")
	}

	if c.Sync.LockTimeout <= 0 {
		return errors.New("sync.lock_timeout must be positive")
	}

	if c.Sync.OpRetention <= 0 {
		return errors.New("sync.op_retention must be positive")
	}

	if c.Jobs.PollInterval <= 0 {
		return errors.New("jobs.poll_interval must be positive")
	}

	if c.Jobs.MaxPolls <= 0 {
		return errors.New("jobs.max_polls must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.StateDir,
		c.Storage.AssetsDir,
	}

	if c.Auth.TokenFile != "" {
		dirs = append(dirs, filepath.Dir(c.Auth.TokenFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
