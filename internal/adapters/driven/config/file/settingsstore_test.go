package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remarklab/mdsync/internal/core/domain"
)

func TestSettingsStoreDefaultsWhenMissing(t *testing.T) {
	store, err := NewSettingsStore(t.TempDir())
	require.NoError(t, err)

	settings, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)
}

func TestSettingsStoreRoundTrip(t *testing.T) {
	store, err := NewSettingsStore(t.TempDir())
	require.NoError(t, err)

	settings := domain.DefaultSettings()
	settings.Device.Host = "192.168.1.50"
	settings.Sync.LocalDir = "/home/me/notes"
	settings.Sync.Debounce = 750 * time.Millisecond
	settings.Sync.AutoDeleteRemote = true

	require.NoError(t, store.Save(settings))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings, loaded)
}

func TestSettingsStorePartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSettingsStore(dir)
	require.NoError(t, err)

	partial := `
[device]
host = "10.0.0.5"

[sync]
local_dir = "/home/me/notes"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(partial), 0o600))

	settings, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", settings.Device.Host)
	assert.Equal(t, "/home/me/notes", settings.Sync.LocalDir)

	defaults := domain.DefaultSettings()
	assert.Equal(t, defaults.Sync.Debounce, settings.Sync.Debounce)
	assert.Equal(t, defaults.Sync.MarkdownExtensions, settings.Sync.MarkdownExtensions)
	assert.Equal(t, defaults.Device.Port, settings.Device.Port)
}

func TestSettingsStoreInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSettingsStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not [valid"), 0o600))

	_, err = store.Load()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsStoreFilePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSettingsStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(domain.DefaultSettings()))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
