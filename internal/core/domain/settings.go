package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Settings is the full application configuration, persisted as TOML.
type Settings struct {
	Device DeviceConfig   `toml:"device"`
	Sync   SyncSettings   `toml:"sync"`
	Backup BackupSettings `toml:"backup"`
}

// SyncSettings controls the sync engine's behaviour.
type SyncSettings struct {
	// LocalDir is the local markdown directory (the sync root).
	LocalDir string `toml:"local_dir"`

	// RemoteDir is the markdown directory on the device.
	RemoteDir string `toml:"remote_dir"`

	// MarkdownExtensions is the set of extensions eligible for the
	// convert-then-upload path. Everything else is tracked for
	// deletion and rename bookkeeping only, never converted.
	MarkdownExtensions []string `toml:"markdown_extensions"`

	// IgnorePatterns are filename patterns excluded from scanning on
	// both sides. Dotfiles are matched by a leading ".", suffixes by
	// a leading "*".
	IgnorePatterns []string `toml:"ignore_patterns"`

	// Debounce collapses rapid-fire local events per path into one
	// change record.
	Debounce time.Duration `toml:"debounce"`

	// PollInterval is the cadence of the remote listing poll.
	PollInterval time.Duration `toml:"poll_interval"`

	// AutoDeleteRemote deletes the device copy after a local delete.
	// Off by default: the plan degrades to a logged skip.
	AutoDeleteRemote bool `toml:"auto_delete_remote"`

	// AutoDeleteLocal deletes the local copy after a remote delete.
	AutoDeleteLocal bool `toml:"auto_delete_local"`

	// ConvertToPDF renders markdown to PDF alongside the raw upload.
	ConvertToPDF bool `toml:"convert_to_pdf"`

	// RegisterOnDevice registers converted PDFs with the device UI so
	// they show up in the reading list.
	RegisterOnDevice bool `toml:"register_on_device"`

	// MaxReconnectAttempts caps reconnect backoff before a fatal
	// connection error is surfaced.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`

	// HealthCheckInterval is the cadence of the connection health
	// probe while watching.
	HealthCheckInterval time.Duration `toml:"health_check_interval"`
}

// BackupSettings controls local backups taken before a download
// overwrites an existing file.
type BackupSettings struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`

	// MaxPerFile bounds how many timestamped copies are kept per path.
	MaxPerFile int `toml:"max_per_file"`
}

// DefaultSettings returns the settings used when no config file exists.
func DefaultSettings() Settings {
	return Settings{
		Device: DeviceConfig{
			Host:    "10.11.99.1",
			Port:    22,
			User:    "root",
			Timeout: 30 * time.Second,
		},
		Sync: SyncSettings{
			RemoteDir:            "/home/root/markdown",
			MarkdownExtensions:   []string{".md", ".markdown", ".mdown", ".mkd", ".txt"},
			IgnorePatterns:       []string{".*", "*.tmp", "*.swp"},
			Debounce:             500 * time.Millisecond,
			PollInterval:         30 * time.Second,
			AutoDeleteRemote:     false,
			AutoDeleteLocal:      false,
			ConvertToPDF:         true,
			RegisterOnDevice:     true,
			MaxReconnectAttempts: 10,
			HealthCheckInterval:  30 * time.Second,
		},
		Backup: BackupSettings{
			Enabled:    true,
			MaxPerFile: 10,
		},
	}
}

// Validate checks the settings for values the engine cannot run with.
func (s Settings) Validate() error {
	if s.Sync.LocalDir == "" {
		return fmt.Errorf("%w: sync.local_dir is required", ErrInvalidInput)
	}
	if s.Sync.RemoteDir == "" {
		return fmt.Errorf("%w: sync.remote_dir is required", ErrInvalidInput)
	}
	if s.Sync.Debounce < 0 {
		return fmt.Errorf("%w: sync.debounce must not be negative", ErrInvalidInput)
	}
	if s.Sync.PollInterval <= 0 {
		return fmt.Errorf("%w: sync.poll_interval must be positive", ErrInvalidInput)
	}
	return s.Device.Validate()
}

// IsMarkdown reports whether path has a recognised markdown extension.
func (s SyncSettings) IsMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range s.MarkdownExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ShouldIgnore reports whether the relative path matches an ignore
// pattern. Every path segment is checked, so files inside an ignored
// directory are ignored too.
func (s SyncSettings) ShouldIgnore(path string) bool {
	for _, name := range strings.Split(filepath.ToSlash(path), "/") {
		for _, pattern := range s.IgnorePatterns {
			switch {
			case strings.HasPrefix(pattern, "*"):
				if strings.HasSuffix(name, pattern[1:]) {
					return true
				}
			case pattern == ".*":
				if strings.HasPrefix(name, ".") {
					return true
				}
			default:
				if name == pattern {
					return true
				}
			}
		}
	}
	return false
}
