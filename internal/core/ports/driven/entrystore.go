package driven

import (
	"context"

	"github.com/remarklab/mdsync/internal/core/domain"
)

// EntryStore persists sync bookkeeping, keyed by relative path. Loaded
// at startup and flushed after every status transition. Only the
// planner and the executor mutate entries; everything else reads
// snapshots.
type EntryStore interface {
	// Get retrieves the entry for a path. Returns domain.ErrNotFound
	// if the path was never synced.
	Get(ctx context.Context, path string) (*domain.SyncEntry, error)

	// Save stores or updates an entry.
	Save(ctx context.Context, entry *domain.SyncEntry) error

	// Delete removes an entry after the path is gone on both sides.
	Delete(ctx context.Context, path string) error

	// List returns all entries ordered by path.
	List(ctx context.Context) ([]domain.SyncEntry, error)
}
