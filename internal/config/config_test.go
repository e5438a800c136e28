package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KBFLOW_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := Load()

	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, 2*time.Second, cfg.DetailPollInterval)
	assert.Equal(t, 5*time.Second, cfg.ListPollInterval)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server_url: http://kb.internal:9090\ndetail_poll_interval: 1s\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	t.Setenv("KBFLOW_CONFIG", path)
	t.Setenv("KBFLOW_DETAIL_POLL_INTERVAL", "500ms")

	cfg := Load()

	assert.Equal(t, "http://kb.internal:9090", cfg.ServerURL)
	assert.Equal(t, 500*time.Millisecond, cfg.DetailPollInterval, "env must win over file")
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_UnparseableFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))
	t.Setenv("KBFLOW_CONFIG", path)

	cfg := Load()
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("tracking started", "task_id", "t-1")
	logger.Debug("suppressed")

	assert.Contains(t, stderr.String(), "tracking started")
	assert.NotContains(t, stderr.String(), "suppressed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "tracking started", entry["msg"])
	assert.Equal(t, "t-1", entry["task_id"])
}
