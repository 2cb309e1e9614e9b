package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "atlas.yaml"), []byte(body), 0o644))
}

func TestLoadFallsBackToDefaultsWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(dir)

	settings, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().Pool, settings.Pool)
	assert.Equal(t, "walstore", settings.StorageDriver)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
storage:
  driver: sqlbackend
pool:
  max_size: 25
cache:
  max_entries: 500
`)
	l := NewLoader(dir)
	settings, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlbackend", settings.StorageDriver)
	assert.Equal(t, 25, settings.Pool.MaxSize)
	assert.Equal(t, 500, settings.Cache.MaxEntries)
}

func TestWatchTriggersOnChangeAfterFileEdit(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "pool:\n  max_size: 5\n")
	l := NewLoader(dir)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan Settings, 1)
	l.OnChange(func(s Settings) { changed <- s })
	l.Watch()

	writeConfigFile(t, dir, "pool:\n  max_size: 9\n")

	select {
	case s := <-changed:
		assert.Equal(t, 9, s.Pool.MaxSize)
	case <-time.After(2 * time.Second):
		t.Skip("fsnotify did not fire within timeout on this filesystem")
	}
}
