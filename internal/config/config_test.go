package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 30*time.Second, cfg.Playback.AutosaveInterval)
	assert.Equal(t, 0.05, cfg.Playback.WriteWindowLow)
	assert.Equal(t, 0.95, cfg.Playback.WriteWindowHigh)
	assert.Equal(t, 0.90, cfg.Playback.PromptWindowHigh)
	assert.Equal(t, int64(5_000_000), cfg.Streaming.ExcellentThresholdBps)
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
playback:
  autosave_interval: 45s
  write_window_low: 0.1
streaming:
  backend_url: http://peers:9090
`), 0o644))

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	cfg := cm.GetConfig()
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Playback.AutosaveInterval)
	assert.Equal(t, 0.1, cfg.Playback.WriteWindowLow)
	assert.Equal(t, "http://peers:9090", cfg.Streaming.BackendURL)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.95, cfg.Playback.WriteWindowHigh)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o644))

	t.Setenv("TORRENSTREAM_PORT", "7070")
	t.Setenv("TORRENSTREAM_AUTOSAVE_INTERVAL", "10s")
	t.Setenv("TORRENSTREAM_ADAPTIVE_CONTAINERS", "mkv, avi")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	cfg := cm.GetConfig()
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Playback.AutosaveInterval)
	assert.Equal(t, []string{"mkv", "avi"}, cfg.Playback.AdaptiveContainers)
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(""))
	assert.Equal(t, 8080, cm.GetConfig().Server.Port)
}

func TestValidationRejectsBadWindows(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		content string
	}{
		{"inverted write window", "write window", "playback:\n  write_window_low: 0.96\n"},
		{"prompt above write window", "prompt window", "playback:\n  prompt_window_high: 0.99\n"},
		{"bad port", "port", "server:\n  port: 0\n"},
		{"bad database type", "database", "database:\n  type: mongodb\n"},
		{"zero sample window", "sample window", "streaming:\n  sample_window: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cm := NewConfigManager()
			assert.Error(t, cm.LoadConfig(path))
		})
	}
}

func TestWatchersNotifiedOnReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o644))

	cm := NewConfigManager()
	notified := make(chan int, 1)
	cm.AddWatcher(func(oldConfig, newConfig *Config) {
		notified <- newConfig.Server.Port
	})

	require.NoError(t, cm.LoadConfig(path))
	select {
	case port := <-notified:
		assert.Equal(t, 9999, port)
	case <-time.After(time.Second):
		t.Fatal("watcher was not notified")
	}
}

func TestDerivedSQLitePath(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(""))
	cfg := cm.GetConfig()
	assert.Equal(t, filepath.Join(cfg.Database.DataDir, "torrenstream.db"), cfg.Database.DatabasePath)
}
