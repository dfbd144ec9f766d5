package domain

import "errors"

var (
	// ErrNotFound indicates a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a sync cycle is already running.
	ErrSyncInProgress = errors.New("sync in progress")
)

// Remote channel errors.
var (
	// ErrAuth indicates the device rejected the credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrConnection indicates the remote channel could not be
	// established or was lost.
	ErrConnection = errors.New("connection failed")

	// ErrTimeout indicates a remote call exceeded its deadline.
	// Treated like ErrConnection for retry and backoff purposes.
	ErrTimeout = errors.New("remote call timed out")

	// ErrRemoteIO indicates a remote command or transfer failed on
	// the device side (non-zero exit, short write).
	ErrRemoteIO = errors.New("remote I/O failed")

	// ErrDegraded indicates the connection is suspended after
	// repeated health-check failures.
	ErrDegraded = errors.New("connection degraded")

	// ErrTooManyRetries indicates reconnection gave up after the
	// configured attempt cap.
	ErrTooManyRetries = errors.New("too many reconnect attempts")
)

// Sync pipeline errors.
var (
	// ErrConversion indicates markdown to PDF conversion failed.
	// Per-file: it never blocks sync of other files.
	ErrConversion = errors.New("conversion failed")

	// ErrWatch indicates the local filesystem watcher failed.
	// Treated as "no local events this cycle", never fatal.
	ErrWatch = errors.New("filesystem watch failed")

	// ErrConflict indicates both sides changed since the last sync.
	// Durable state requiring explicit resolution, not retried.
	ErrConflict = errors.New("sync conflict")
)

// IsConnectionError reports whether err is a remote-channel failure
// that should be retried with backoff. Connection drops and timeouts
// are handled identically.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}
