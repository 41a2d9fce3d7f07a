package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
}

// NewLoader creates a config loader. An empty path searches the default
// locations instead.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load merges defaults, the config file and SCENESYNC_* environment
// variables, in increasing precedence, and validates the result.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	seedDefaults(v, DefaultConfig())

	v.SetEnvPrefix("scenesync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	} else {
		addDefaultPaths(v)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// addDefaultPaths registers the locations searched when no explicit
// config path was given. The file is named scenesync.json in all of them.
func addDefaultPaths(v *viper.Viper) {
	v.SetConfigName("scenesync")
	v.AddConfigPath(".")

	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "scenesync"))
		v.AddConfigPath(filepath.Join(homeDir, ".scenesync"))
	}
}

// seedDefaults registers every config key with its default value. Keys
// must be registered for environment overrides to reach Unmarshal.
func seedDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("api.user_agent", d.API.UserAgent)

	v.SetDefault("auth.email", d.Auth.Email)
	v.SetDefault("auth.token_file", d.Auth.TokenFile)

	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.state_dir", d.Storage.StateDir)
	v.SetDefault("storage.assets_dir", d.Storage.AssetsDir)
	v.SetDefault("storage.backend", d.Storage.Backend)

	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.retry_delay", d.Sync.RetryDelay)
	v.SetDefault("sync.lock_timeout", d.Sync.LockTimeout)
	v.SetDefault("sync.op_retention", d.Sync.OpRetention)

	v.SetDefault("jobs.poll_interval", d.Jobs.PollInterval)
	v.SetDefault("jobs.max_polls", d.Jobs.MaxPolls)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.color", d.Log.Color)
}
