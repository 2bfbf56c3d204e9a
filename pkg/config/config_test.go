package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.MaxTasks)
	assert.Equal(t, PolicyAffinity, cfg.DispatchPolicy)
	assert.True(t, cfg.EnableLoadPrediction)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, Save(path, &Config{
		MaxTasks:       64,
		NumCPUs:        8,
		DispatchPolicy: PolicyRoundRobin,
	}))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.MaxTasks)
	assert.Equal(t, 8, cfg.NumCPUs)
	assert.Equal(t, PolicyRoundRobin, cfg.DispatchPolicy)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	updated := DefaultConfig()
	updated.RebalanceThreshold = 99
	require.NoError(t, Save(path, updated))

	select {
	case c := <-reloaded:
		assert.Equal(t, 99, c.RebalanceThreshold)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not observe config file change")
	}
}
