package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "GCP_PROJECT_ID", "GCP_REGION",
		"GEARBOX_ADDR", "GEARBOX_PORT", "GEARBOX_LOG_LEVEL", "GEARBOX_FETCH_TIMEOUT",
		"GEARBOX_FETCH_ALLOWED_HOSTS", "GEARBOX_GCP_PROJECT_ID", "GEARBOX_GCP_REGION", "GEARBOX_GCP_MODEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	defaults := DefaultConfig()
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, defaults.LogLevel, cfg.LogLevel)
	assert.Equal(t, defaults.Fetch.Timeout, cfg.Fetch.Timeout)
	assert.Empty(t, cfg.Fetch.AllowedHosts)
	assert.Equal(t, defaults.GCP, cfg.GCP)
}

func TestLoadConfigEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("GEARBOX_LOG_LEVEL", "debug")
	t.Setenv("GEARBOX_FETCH_TIMEOUT", "3s")
	t.Setenv("GEARBOX_FETCH_ALLOWED_HOSTS", "a.com,b.com")
	t.Setenv("GEARBOX_GCP_MODEL", "gemini-2.5-pro")
	t.Setenv("GCP_PROJECT_ID", "fallback-project")
	t.Setenv("GEARBOX_GCP_PROJECT_ID", "gearbox-project")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, []string{"a.com", "b.com"}, cfg.Fetch.AllowedHosts)
	assert.Equal(t, "gearbox-project", cfg.GCP.ProjectID)
	assert.Equal(t, "gemini-2.5-pro", cfg.GCP.Model)
}

func TestLoadConfigFile(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "gearbox.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = "127.0.0.1:7000"
log_level = "warn"

[fetch]
timeout = "30s"
allowed_hosts = ["raw.githubusercontent.com"]

[gcp]
project_id = "from-file"
region = "us-central1"
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr())
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, []string{"raw.githubusercontent.com"}, cfg.Fetch.AllowedHosts)
	assert.Equal(t, GCPConfig{ProjectID: "from-file", Region: "us-central1", Model: defaultModel}, cfg.GCP)
}

func TestLoadConfigErrors(t *testing.T) {
	clearConfigEnv(t)

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	t.Setenv("GEARBOX_FETCH_TIMEOUT", "0s")
	_, err = loadConfig("")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn")
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, logger.GetLevel())

	_, err = newLogger("loud")
	assert.Error(t, err)
}
