package driven

import (
	"context"
	"time"

	"github.com/remarklab/mdsync/internal/core/domain"
)

// CommandResult is the outcome of a remote command execution.
type CommandResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// RemoteFile is one entry of a remote directory listing. Path is
// relative to the listed directory, forward slashes.
type RemoteFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// RemoteShell is the authenticated remote-shell capability of the
// paired device. Implementations are not assumed safe for concurrent
// multiplexed commands; the connection manager serializes all calls
// through a single session slot.
//
// All methods fail with domain.ErrAuth, domain.ErrConnection,
// domain.ErrTimeout or domain.ErrRemoteIO wrapped in the returned error.
type RemoteShell interface {
	// Execute runs a command and returns its captured output. A
	// non-zero exit code is not an error; it is reported in the result.
	Execute(ctx context.Context, command string) (*CommandResult, error)

	// Upload copies a local file to the device, creating parent
	// directories as needed.
	Upload(ctx context.Context, localPath, remotePath string) error

	// Download copies a device file to a local path.
	Download(ctx context.Context, remotePath, localPath string) error

	// ListDir returns the regular files under dir, recursively.
	ListDir(ctx context.Context, dir string) ([]RemoteFile, error)

	// Stat returns size and mtime for one remote path.
	Stat(ctx context.Context, path string) (*RemoteFile, error)

	// Checksum returns the SHA-256 hex digest of a remote file.
	Checksum(ctx context.Context, path string) (string, error)

	// Close tears down the session.
	Close() error
}

// ShellDialer opens a fresh authenticated session. The connection
// manager owns the returned shell; a reconnect always dials a new one
// rather than reusing a half-open session.
type ShellDialer interface {
	Dial(ctx context.Context, cfg domain.DeviceConfig) (RemoteShell, error)
}
