// Package config loads the settings every component needs before
// construction: OAuth client credentials, the local store path, and an
// optional YAML override for values test/staging environments need to
// point elsewhere (spec.md §4.9).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gtasksync/internal/syncerr"
)

const (
	envClientID     = "GOOGLE_OAUTH_CLIENT_ID"
	envClientIDVite = "VITE_GOOGLE_OAUTH_CLIENT_ID"
	envClientSecret = "GOOGLE_OAUTH_CLIENT_SECRET"
	envClientSecVit = "VITE_GOOGLE_OAUTH_CLIENT_SECRET"
	envStorePath    = "GTASKSYNC_STORE_PATH"
	envOverrideFile = "GTASKSYNC_CONFIG_FILE"

	defaultDBName       = "gtasksync.db"
	defaultSyncInterval = 60 * time.Second
	defaultQueueBatch   = 25
	defaultHTTPTimeout  = 30 * time.Second
)

// Config is the validated settings a daemon run needs. The OAuth
// credentials and store path always come from the environment so no
// secret ever touches a config file on disk; RemoteBaseURL/
// SyncInterval/QueueBatch/HTTPTimeout may be layered in from an
// optional YAML override, the only case a real deployment needs one
// (pointing the remote client at a fixture server in tests).
type Config struct {
	ClientID     string `validate:"required"`
	ClientSecret string
	StorePath    string `validate:"required"`

	RemoteBaseURL string        `validate:"omitempty,url"`
	SyncInterval  time.Duration `validate:"omitempty,min=1000000000"`
	QueueBatch    int           `validate:"omitempty,min=1"`
	HTTPTimeout   time.Duration `validate:"omitempty,min=1000000000"`
}

// override is the shape of the optional YAML file.
type override struct {
	RemoteBaseURL string `yaml:"remote_base_url"`
	SyncInterval  string `yaml:"sync_interval"`
	QueueBatch    int    `yaml:"queue_batch"`
	HTTPTimeout   string `yaml:"http_timeout"`
}

// Load reads the environment and, if GTASKSYNC_CONFIG_FILE names a
// readable file, layers its overrides on top, then validates the
// result.
func Load() (*Config, error) {
	cfg := &Config{
		ClientID:     firstNonEmpty(os.Getenv(envClientID), os.Getenv(envClientIDVite)),
		ClientSecret: firstNonEmpty(os.Getenv(envClientSecret), os.Getenv(envClientSecVit)),
		StorePath:    os.Getenv(envStorePath),
		SyncInterval: defaultSyncInterval,
		QueueBatch:   defaultQueueBatch,
		HTTPTimeout:  defaultHTTPTimeout,
	}
	if cfg.StorePath == "" {
		path, err := defaultStorePath()
		if err != nil {
			return nil, syncerr.Internal("config_default_store_path", err)
		}
		cfg.StorePath = path
	}

	if overridePath := os.Getenv(envOverrideFile); overridePath != "" {
		if err := applyOverrideFile(cfg, overridePath); err != nil {
			return nil, err
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, syncerr.Validation("config", err.Error())
	}
	return cfg, nil
}

func applyOverrideFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return syncerr.Internal("config_read_override", err)
	}
	var ov override
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return syncerr.Validation("config_file", fmt.Sprintf("invalid YAML in %s: %v", path, err))
	}

	if ov.RemoteBaseURL != "" {
		cfg.RemoteBaseURL = ov.RemoteBaseURL
	}
	if ov.QueueBatch > 0 {
		cfg.QueueBatch = ov.QueueBatch
	}
	if ov.SyncInterval != "" {
		d, err := time.ParseDuration(ov.SyncInterval)
		if err != nil {
			return syncerr.Validation("config_file", fmt.Sprintf("sync_interval %q: %v", ov.SyncInterval, err))
		}
		cfg.SyncInterval = d
	}
	if ov.HTTPTimeout != "" {
		d, err := time.ParseDuration(ov.HTTPTimeout)
		if err != nil {
			return syncerr.Validation("config_file", fmt.Sprintf("http_timeout %q: %v", ov.HTTPTimeout, err))
		}
		cfg.HTTPTimeout = d
	}
	return nil
}

func defaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(dir, "gtasksync", defaultDBName), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
