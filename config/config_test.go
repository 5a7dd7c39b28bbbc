package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.FallbackTenant)
	assert.Equal(t, "pos-sync.db", cfg.StorePath)
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 5, cfg.RetryThreshold)
	assert.Equal(t, 7*24*time.Hour, cfg.QueueMaxAge)
	assert.Equal(t, 24*time.Hour, cfg.MenuTTL)
	assert.Equal(t, time.Hour, cfg.TablesTTL)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
baseUrl: https://warung.tablio.com
host: warung.tablio.com
retryThreshold: 3
menuTtl: 12h
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://warung.tablio.com", cfg.BaseURL)
	assert.Equal(t, "warung.tablio.com", cfg.Host)
	assert.Equal(t, 3, cfg.RetryThreshold)
	assert.Equal(t, 12*time.Hour, cfg.MenuTTL)
	// Untouched keys keep their defaults.
	assert.Equal(t, "demo", cfg.FallbackTenant)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retryThreshold: 3\n"), 0o644))

	t.Setenv("POS_RETRY_THRESHOLD", "8")
	t.Setenv("POS_SYNC_INTERVAL", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.RetryThreshold)
	assert.Equal(t, 2*time.Minute, cfg.SyncInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
