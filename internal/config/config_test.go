package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gtasksync/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_OAUTH_CLIENT_ID", "VITE_GOOGLE_OAUTH_CLIENT_ID",
		"GOOGLE_OAUTH_CLIENT_SECRET", "VITE_GOOGLE_OAUTH_CLIENT_SECRET",
		"GTASKSYNC_STORE_PATH", "GTASKSYNC_CONFIG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRequiresClientID(t *testing.T) {
	clearEnv(t)
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadFallsBackToViteClientID(t *testing.T) {
	clearEnv(t)
	t.Setenv("VITE_GOOGLE_OAUTH_CLIENT_ID", "client-from-vite")
	t.Setenv("GTASKSYNC_STORE_PATH", filepath.Join(t.TempDir(), "gtasksync.db"))

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "client-from-vite", cfg.ClientID)
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_OAUTH_CLIENT_ID", "client-1")
	t.Setenv("GTASKSYNC_STORE_PATH", filepath.Join(t.TempDir(), "gtasksync.db"))

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 25, cfg.QueueBatch)
	require.Equal(t, "", cfg.RemoteBaseURL)
}

func TestLoadAppliesYAMLOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_OAUTH_CLIENT_ID", "client-1")
	t.Setenv("GTASKSYNC_STORE_PATH", filepath.Join(t.TempDir(), "gtasksync.db"))

	overridePath := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(overridePath, []byte(`
remote_base_url: "http://127.0.0.1:9999"
queue_batch: 5
sync_interval: "30s"
http_timeout: "5s"
`), 0o644))
	t.Setenv("GTASKSYNC_CONFIG_FILE", overridePath)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9999", cfg.RemoteBaseURL)
	require.Equal(t, 5, cfg.QueueBatch)
	require.Equal(t, 30_000_000_000, int(cfg.SyncInterval))
	require.Equal(t, 5_000_000_000, int(cfg.HTTPTimeout))
}

func TestLoadRejectsMalformedOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_OAUTH_CLIENT_ID", "client-1")
	t.Setenv("GTASKSYNC_STORE_PATH", filepath.Join(t.TempDir(), "gtasksync.db"))

	overridePath := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(overridePath, []byte("remote_base_url: [not a string"), 0o644))
	t.Setenv("GTASKSYNC_CONFIG_FILE", overridePath)

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidRemoteURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_OAUTH_CLIENT_ID", "client-1")
	t.Setenv("GTASKSYNC_STORE_PATH", filepath.Join(t.TempDir(), "gtasksync.db"))

	overridePath := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(overridePath, []byte(`remote_base_url: "not-a-url"`), 0o644))
	t.Setenv("GTASKSYNC_CONFIG_FILE", overridePath)

	_, err := config.Load()
	require.Error(t, err)
}
