// Package file is a TOML-backed implementation of the settings store.
package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
)

// Ensure SettingsStore implements the interface.
var _ driven.SettingsStore = (*SettingsStore)(nil)

// SettingsStore persists settings as a TOML file. A missing file loads
// the defaults; explicit values in the file override them field by
// field, so a partial file is valid.
type SettingsStore struct {
	mu       sync.Mutex
	filePath string
}

// NewSettingsStore creates a TOML settings store. If configDir is
// empty, defaults to ~/.mdsync.
func NewSettingsStore(configDir string) (*SettingsStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".mdsync")
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, err
	}

	return &SettingsStore{filePath: filepath.Join(configDir, "config.toml")}, nil
}

// Load reads the settings, applying defaults for a missing file.
func (s *SettingsStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := domain.DefaultSettings()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return settings, fmt.Errorf("reading %s: %w", s.filePath, err)
	}

	if err := toml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("%w: parsing %s: %w", domain.ErrInvalidInput, s.filePath, err)
	}
	return settings, nil
}

// Save writes the settings back, readable only by the owner since the
// device password lives in there.
func (s *SettingsStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", s.filePath, err)
	}
	return nil
}

// Path returns the backing file path for display.
func (s *SettingsStore) Path() string {
	return s.filePath
}
