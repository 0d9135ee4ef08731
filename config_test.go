package knode

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParseConfig(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(`
workers: 3
scratch_dir: /tmp/knode
log_level: debug
inputs:
  count: 5
  label: numbers
`))
		assert.NoError(t, err)
		assert.Equal(t, 3, cfg.Workers)
		assert.Equal(t, "/tmp/knode", cfg.ScratchDir)
		assert.Equal(t, map[string]any{"count": 5, "label": "numbers"}, cfg.Inputs)

		level, err := cfg.Level()
		assert.NoError(t, err)
		assert.Equal(t, slog.LevelDebug, level)

		app, err := New(nil, cfg.Options()...)
		assert.NoError(t, err)
		assert.Equal(t, 3, app.numWorkers)
		assert.Equal(t, "/tmp/knode", app.scratchDir)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := ParseConfig([]byte("{}"))
		assert.NoError(t, err)
		assert.Equal(t, 0, len(cfg.Options()))
		level, err := cfg.Level()
		assert.NoError(t, err)
		assert.Equal(t, slog.LevelInfo, level)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := ParseConfig([]byte("log_level: loud"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := ParseConfig([]byte("workers: [1"))
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knode.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0o600))

	cfg, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
