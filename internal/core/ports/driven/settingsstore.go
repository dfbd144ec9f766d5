package driven

import "github.com/remarklab/mdsync/internal/core/domain"

// SettingsStore loads and persists the application settings.
type SettingsStore interface {
	// Load reads the settings, applying defaults for a missing file.
	Load() (domain.Settings, error)

	// Save writes the settings back to durable storage.
	Save(settings domain.Settings) error

	// Path returns the backing file path for display.
	Path() string
}
