package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/logger"
)

// Detector merges local filesystem events and periodic remote listings
// into a normalized, deduplicated batch of change records per poll.
// The two sources are independently clocked and independently failing:
// either side producing nothing for a cycle is normal, never fatal.
type Detector struct {
	watcher  driven.LocalWatcher
	shell    driven.RemoteShell
	settings domain.SyncSettings

	mu      sync.Mutex
	pending map[string]pendingEvent

	// lastListing is the previous remote snapshot, path to file info.
	// Nil until the first successful listing: deletes are only ever
	// inferred from a successful listing diffed against a previous
	// successful listing.
	lastListing map[string]driven.RemoteFile

	// now is injectable for debounce tests.
	now func() time.Time
}

// pendingEvent is a buffered local event awaiting its debounce window.
type pendingEvent struct {
	kind   domain.ChangeKind
	lastAt time.Time
}

// NewDetector creates a change detector over the given capabilities.
func NewDetector(watcher driven.LocalWatcher, shell driven.RemoteShell, settings domain.SyncSettings) *Detector {
	return &Detector{
		watcher:  watcher,
		shell:    shell,
		settings: settings,
		pending:  make(map[string]pendingEvent),
		now:      time.Now,
	}
}

// Run consumes watcher events into the debounce buffer until ctx is
// cancelled. A closed event channel (WatchError) is retried after the
// poll interval; the cycle in between simply sees no local events.
func (d *Detector) Run(ctx context.Context) {
	for {
		events, err := d.watcher.Start(ctx)
		if err != nil {
			logger.Warn("local watch unavailable: %v", err)
		} else {
			d.consume(ctx, events)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.settings.PollInterval):
			// Restart the watch.
		}
	}
}

func (d *Detector) consume(ctx context.Context, events <-chan driven.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Observe(ev)
		}
	}
}

// Observe buffers one local event. Rapid repeated events for the same
// path collapse into a single record; a delete following a create or
// modify within the window wins, matching an editor's save-and-replace
// sequence.
func (d *Detector) Observe(ev driven.FileEvent) {
	if d.settings.ShouldIgnore(ev.Path) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	at := ev.At
	if at.IsZero() {
		at = d.now()
	}

	prev, ok := d.pending[ev.Path]
	kind := ev.Kind
	if ok && prev.kind == domain.ChangeCreated && kind == domain.ChangeModified {
		// A create followed by writes is still a create.
		kind = domain.ChangeCreated
	}
	d.pending[ev.Path] = pendingEvent{kind: kind, lastAt: at}
}

// Poll returns one deduplicated batch of change records: local events
// whose debounce window has elapsed, plus the diff of a fresh remote
// listing against the previous snapshot. A remote listing failure
// yields zero remote records for the cycle - the absence of a listing
// is never treated as mass deletion.
func (d *Detector) Poll(ctx context.Context) []domain.ChangeRecord {
	records := d.drainLocal(false)
	records = append(records, d.pollRemote(ctx)...)

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records
}

// Flush drains all buffered local events regardless of the debounce
// window, for one-shot syncs and shutdown.
func (d *Detector) Flush() []domain.ChangeRecord {
	return d.drainLocal(true)
}

func (d *Detector) drainLocal(ignoreDebounce bool) []domain.ChangeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var records []domain.ChangeRecord
	for path, ev := range d.pending {
		if !ignoreDebounce && now.Sub(ev.lastAt) < d.settings.Debounce {
			continue
		}
		records = append(records, domain.ChangeRecord{
			Path:       path,
			Origin:     domain.OriginLocal,
			Kind:       ev.kind,
			ObservedAt: now,
		})
		delete(d.pending, path)
	}
	return records
}

// pollRemote diffs a fresh remote listing against the previous one.
func (d *Detector) pollRemote(ctx context.Context) []domain.ChangeRecord {
	files, err := d.shell.ListDir(ctx, d.settings.RemoteDir)
	if err != nil {
		logger.Warn("remote listing failed, skipping remote records this cycle: %v", err)
		return nil
	}

	now := d.now()
	listing := make(map[string]driven.RemoteFile, len(files))
	for _, f := range files {
		if d.settings.ShouldIgnore(f.Path) {
			continue
		}
		listing[f.Path] = f
	}

	d.mu.Lock()
	prev := d.lastListing
	d.lastListing = listing
	d.mu.Unlock()

	var records []domain.ChangeRecord
	for path, f := range listing {
		record := domain.ChangeRecord{
			Path:       path,
			Origin:     domain.OriginRemote,
			ObservedAt: now,
			Size:       f.Size,
			ModTime:    f.ModTime,
		}
		old, existed := prevLookup(prev, path)
		switch {
		case prev == nil:
			// First listing: report everything as created and let the
			// planner reconcile against the persisted entries.
			record.Kind = domain.ChangeCreated
		case !existed:
			record.Kind = domain.ChangeCreated
		case old.Size != f.Size || !old.ModTime.Equal(f.ModTime):
			record.Kind = domain.ChangeModified
		default:
			continue
		}
		records = append(records, record)
	}

	// Paths present before and missing now are deletes. Only a
	// successful previous listing can vouch for "was present".
	for path := range prev {
		if _, still := listing[path]; !still {
			records = append(records, domain.ChangeRecord{
				Path:       path,
				Origin:     domain.OriginRemote,
				Kind:       domain.ChangeDeleted,
				ObservedAt: now,
			})
		}
	}

	return records
}

func prevLookup(prev map[string]driven.RemoteFile, path string) (driven.RemoteFile, bool) {
	if prev == nil {
		return driven.RemoteFile{}, false
	}
	f, ok := prev[path]
	return f, ok
}

// NoteUploaded updates the remote snapshot after the executor pushed a
// file, so the next poll doesn't echo our own write back as a remote
// change.
func (d *Detector) NoteUploaded(path string, file driven.RemoteFile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastListing == nil {
		return
	}
	d.lastListing[path] = file
}

// NoteRemoteDeleted drops a path from the remote snapshot after the
// executor removed it.
func (d *Detector) NoteRemoteDeleted(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastListing, path)
}
