package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
)

func testSyncSettings() domain.SyncSettings {
	s := domain.DefaultSettings().Sync
	s.LocalDir = "/tmp/notes"
	s.Debounce = 500 * time.Millisecond
	return s
}

// fixedClock drives the detector's injectable clock.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDetector(shell driven.RemoteShell) (*Detector, *fixedClock) {
	clock := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	d := NewDetector(&mockWatcher{}, shell, testSyncSettings())
	d.now = clock.now
	return d, clock
}

func TestDetectorDebounce(t *testing.T) {
	d, clock := newTestDetector(&mockShell{listDirFn: emptyListing})

	d.Observe(driven.FileEvent{Path: "notes.md", Kind: domain.ChangeModified, At: clock.now()})

	// Still inside the debounce window.
	clock.advance(200 * time.Millisecond)
	assert.Empty(t, d.Poll(context.Background()))

	// Another write restarts the window.
	d.Observe(driven.FileEvent{Path: "notes.md", Kind: domain.ChangeModified, At: clock.now()})
	clock.advance(400 * time.Millisecond)
	assert.Empty(t, d.Poll(context.Background()))

	clock.advance(200 * time.Millisecond)
	records := d.Poll(context.Background())
	require.Len(t, records, 1)
	assert.Equal(t, "notes.md", records[0].Path)
	assert.Equal(t, domain.OriginLocal, records[0].Origin)
	assert.Equal(t, domain.ChangeModified, records[0].Kind)

	// Drained: the same event is reported once.
	assert.Empty(t, d.Poll(context.Background()))
}

func TestDetectorCollapsesCreateThenWrite(t *testing.T) {
	d, clock := newTestDetector(&mockShell{listDirFn: emptyListing})

	d.Observe(driven.FileEvent{Path: "a.md", Kind: domain.ChangeCreated, At: clock.now()})
	d.Observe(driven.FileEvent{Path: "a.md", Kind: domain.ChangeModified, At: clock.now()})
	clock.advance(time.Second)

	records := d.Poll(context.Background())
	require.Len(t, records, 1)
	assert.Equal(t, domain.ChangeCreated, records[0].Kind)
}

func TestDetectorDeleteWinsWithinWindow(t *testing.T) {
	d, clock := newTestDetector(&mockShell{listDirFn: emptyListing})

	d.Observe(driven.FileEvent{Path: "a.md", Kind: domain.ChangeCreated, At: clock.now()})
	d.Observe(driven.FileEvent{Path: "a.md", Kind: domain.ChangeDeleted, At: clock.now()})
	clock.advance(time.Second)

	records := d.Poll(context.Background())
	require.Len(t, records, 1)
	assert.Equal(t, domain.ChangeDeleted, records[0].Kind)
}

func TestDetectorIgnorePatterns(t *testing.T) {
	d, clock := newTestDetector(&mockShell{listDirFn: emptyListing})

	d.Observe(driven.FileEvent{Path: ".git/config", Kind: domain.ChangeModified, At: clock.now()})
	d.Observe(driven.FileEvent{Path: "draft.tmp", Kind: domain.ChangeCreated, At: clock.now()})
	d.Observe(driven.FileEvent{Path: ".notes.md.swp", Kind: domain.ChangeCreated, At: clock.now()})
	clock.advance(time.Second)

	assert.Empty(t, d.Poll(context.Background()))
}

func TestDetectorFlushIgnoresDebounce(t *testing.T) {
	d, clock := newTestDetector(&mockShell{})

	d.Observe(driven.FileEvent{Path: "a.md", Kind: domain.ChangeModified, At: clock.now()})
	records := d.Flush()
	require.Len(t, records, 1)
	assert.Equal(t, "a.md", records[0].Path)
}

func TestDetectorFirstRemoteListingAllCreated(t *testing.T) {
	mtime := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	shell := &mockShell{
		listDirFn: func(_ context.Context, _ string) ([]driven.RemoteFile, error) {
			return []driven.RemoteFile{
				{Path: "a.md", Size: 10, ModTime: mtime},
				{Path: "sub/b.md", Size: 20, ModTime: mtime},
			}, nil
		},
	}
	d, _ := newTestDetector(shell)

	records := d.Poll(context.Background())
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, domain.OriginRemote, r.Origin)
		assert.Equal(t, domain.ChangeCreated, r.Kind)
		assert.Equal(t, mtime, r.ModTime)
	}
}

func TestDetectorRemoteDiff(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	listing := []driven.RemoteFile{
		{Path: "keep.md", Size: 10, ModTime: t0},
		{Path: "edit.md", Size: 10, ModTime: t0},
		{Path: "gone.md", Size: 10, ModTime: t0},
	}
	shell := &mockShell{
		listDirFn: func(_ context.Context, _ string) ([]driven.RemoteFile, error) {
			return listing, nil
		},
	}
	d, _ := newTestDetector(shell)
	d.Poll(context.Background()) // seed the snapshot

	listing = []driven.RemoteFile{
		{Path: "keep.md", Size: 10, ModTime: t0},
		{Path: "edit.md", Size: 14, ModTime: t1},
		{Path: "new.md", Size: 5, ModTime: t1},
	}

	records := d.Poll(context.Background())
	byPath := map[string]domain.ChangeRecord{}
	for _, r := range records {
		byPath[r.Path] = r
	}
	require.Len(t, byPath, 3)
	assert.Equal(t, domain.ChangeModified, byPath["edit.md"].Kind)
	assert.Equal(t, domain.ChangeCreated, byPath["new.md"].Kind)
	assert.Equal(t, domain.ChangeDeleted, byPath["gone.md"].Kind)
	assert.NotContains(t, byPath, "keep.md")
}

func TestDetectorListingFailureNeverInfersDeletes(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	fail := false
	shell := &mockShell{
		listDirFn: func(_ context.Context, _ string) ([]driven.RemoteFile, error) {
			if fail {
				return nil, domain.ErrConnection
			}
			return []driven.RemoteFile{{Path: "a.md", Size: 10, ModTime: t0}}, nil
		},
	}
	d, _ := newTestDetector(shell)
	d.Poll(context.Background()) // seed

	fail = true
	assert.Empty(t, d.Poll(context.Background()), "a failed listing yields no remote records")

	// Recovery with the same content yields nothing either: the snapshot
	// survived the outage.
	fail = false
	assert.Empty(t, d.Poll(context.Background()))
}

func TestDetectorUploadEchoSuppressed(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	var listing []driven.RemoteFile
	shell := &mockShell{
		listDirFn: func(_ context.Context, _ string) ([]driven.RemoteFile, error) {
			return listing, nil
		},
	}
	d, _ := newTestDetector(shell)
	d.Poll(context.Background()) // seed empty snapshot

	// The executor pushed a file and recorded its remote stat.
	d.NoteUploaded("a.md", driven.RemoteFile{Path: "a.md", Size: 10, ModTime: t0})

	listing = []driven.RemoteFile{{Path: "a.md", Size: 10, ModTime: t0}}
	assert.Empty(t, d.Poll(context.Background()), "own upload must not echo as a remote change")
}

func TestDetectorRemoteDeleteEchoSuppressed(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	listing := []driven.RemoteFile{{Path: "a.md", Size: 10, ModTime: t0}}
	shell := &mockShell{
		listDirFn: func(_ context.Context, _ string) ([]driven.RemoteFile, error) {
			return listing, nil
		},
	}
	d, _ := newTestDetector(shell)
	d.Poll(context.Background()) // seed

	d.NoteRemoteDeleted("a.md")
	listing = nil
	assert.Empty(t, d.Poll(context.Background()), "own delete must not echo as a remote delete")
}

func emptyListing(_ context.Context, _ string) ([]driven.RemoteFile, error) {
	return nil, nil
}
