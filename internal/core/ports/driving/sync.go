package driving

import (
	"context"

	"github.com/remarklab/mdsync/internal/core/domain"
)

// SyncService drives the detect-plan-execute cycle.
type SyncService interface {
	// SyncOnce runs a single cycle: poll changes, plan actions,
	// execute them in order. Per-entry failures are reported in the
	// returned SyncReport, not as the error.
	SyncOnce(ctx context.Context) (*SyncReport, error)

	// Watch runs cycles continuously until ctx is cancelled. The
	// in-flight transfer is allowed to finish on shutdown; queued but
	// unstarted actions are dropped and re-evaluated next time.
	Watch(ctx context.Context) error

	// Status returns an immutable snapshot of all tracked entries and
	// the connection state. Safe to call from any goroutine.
	Status(ctx context.Context) (*StatusSnapshot, error)

	// Resolve applies an explicit decision to a conflicted entry.
	Resolve(ctx context.Context, path string, resolution domain.ConflictResolution) error
}

// SyncReport summarises one completed cycle.
type SyncReport struct {
	ChangesDetected int
	Uploaded        int
	Downloaded      int
	Deleted         int
	Converted       int
	Skipped         int
	Conflicts       int
	Errors          []ActionError
}

// ActionError records one failed action with its retained reason.
type ActionError struct {
	Path   string
	Action string
	Reason string
}

// StatusSnapshot is a read-only view for display. Callers never mutate
// entries through it.
type StatusSnapshot struct {
	Connection domain.ConnState
	Entries    []domain.SyncEntry
}

// Summary returns per-status counts of the snapshot's entries.
func (s *StatusSnapshot) Summary() map[domain.EntryStatus]int {
	counts := make(map[domain.EntryStatus]int)
	for _, e := range s.Entries {
		counts[e.Status]++
	}
	return counts
}
