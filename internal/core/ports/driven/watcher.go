package driven

import (
	"context"
	"time"

	"github.com/remarklab/mdsync/internal/core/domain"
)

// FileEvent is one raw local filesystem notification, before
// debouncing. Path is relative to the watched root.
type FileEvent struct {
	Path string
	Kind domain.ChangeKind
	At   time.Time
}

// LocalWatcher produces a lazy, infinite, restartable sequence of local
// file events. A failure of the underlying notification primitive
// closes the event channel; the detector treats that as "no local
// events this cycle" and calls Start again.
type LocalWatcher interface {
	// Start begins watching and returns the event channel. The
	// channel is closed when ctx is cancelled or the watch fails with
	// domain.ErrWatch.
	Start(ctx context.Context) (<-chan FileEvent, error)

	// Close releases the watch resources.
	Close() error
}
