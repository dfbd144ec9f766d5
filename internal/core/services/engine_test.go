package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remarklab/mdsync/internal/adapters/driven/storage/memory"
	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
)

type stubConn struct {
	state domain.ConnState
}

func (s *stubConn) Connect(context.Context) error {
	s.state = domain.StateConnected
	return nil
}

func (s *stubConn) Disconnect() error {
	s.state = domain.StateDisconnected
	return nil
}

func (s *stubConn) State() (domain.ConnState, string) { return s.state, "" }

func (s *stubConn) RunHealthChecks(ctx context.Context, _ time.Duration) { <-ctx.Done() }

type engineFixture struct {
	engine   *Engine
	store    *memory.EntryStore
	shell    *mockShell
	sizes    map[string]int64
	settings domain.Settings
}

// newEngineFixture builds the full service stack over a mock shell that
// simulates the remote filesystem with a path->size table.
func newEngineFixture(t *testing.T, mutate func(*domain.Settings)) *engineFixture {
	t.Helper()
	settings := domain.DefaultSettings()
	settings.Sync.LocalDir = t.TempDir()
	settings.Sync.RemoteDir = "/home/root/markdown"
	settings.Sync.RegisterOnDevice = false
	settings.Backup.Enabled = false
	if mutate != nil {
		mutate(&settings)
	}

	sizes := map[string]int64{}
	mtime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	shell := &mockShell{}
	shell.statFn = func(_ context.Context, path string) (*driven.RemoteFile, error) {
		size, ok := sizes[path]
		if !ok {
			return nil, domain.ErrNotFound
		}
		return &driven.RemoteFile{Path: path, Size: size, ModTime: mtime}, nil
	}
	shell.uploadFn = func(_ context.Context, localPath, remotePath string) error {
		info, err := os.Stat(localPath)
		if err != nil {
			return err
		}
		sizes[remotePath] = info.Size()
		return nil
	}
	shell.executeFn = func(_ context.Context, command string) (*driven.CommandResult, error) {
		if strings.HasPrefix(command, "mv -f ") {
			parts := strings.Split(command, "' '")
			src := strings.TrimPrefix(parts[0], "mv -f '")
			dst := strings.TrimSuffix(parts[1], "'")
			sizes[dst] = sizes[src]
			delete(sizes, src)
		}
		if strings.HasPrefix(command, "rm -f ") {
			for _, quoted := range strings.Fields(strings.TrimPrefix(command, "rm -f")) {
				delete(sizes, strings.Trim(quoted, "'"))
			}
		}
		return &driven.CommandResult{Command: command}, nil
	}
	shell.listDirFn = func(_ context.Context, dir string) ([]driven.RemoteFile, error) {
		var files []driven.RemoteFile
		for path, size := range sizes {
			if strings.HasPrefix(path, dir+"/") {
				files = append(files, driven.RemoteFile{
					Path:    strings.TrimPrefix(path, dir+"/"),
					Size:    size,
					ModTime: mtime,
				})
			}
		}
		return files, nil
	}

	store := memory.NewEntryStore()
	detector := NewDetector(&mockWatcher{}, shell, settings.Sync)
	planner := NewPlanner(store, shell, settings)
	backups := NewBackups(settings.Sync.LocalDir, settings.Backup)
	executor := NewExecutor(store, shell, NewConversion(&mockConverter{}), nil, detector, backups, settings)
	engine := NewEngine(settings, &stubConn{}, detector, planner, executor, store)

	return &engineFixture{engine: engine, store: store, shell: shell, sizes: sizes, settings: settings}
}

func (f *engineFixture) writeLocal(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.settings.Sync.LocalDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestEngineSyncOnceUploadsNewFile(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.writeLocal(t, "notes.md", "# hello")

	report, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.ChangesDetected)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 1, report.Converted)
	assert.Empty(t, report.Errors)

	assert.Contains(t, f.sizes, "/home/root/markdown/notes.md")
	assert.Contains(t, f.sizes, "/home/root/markdown/notes.pdf")

	entry, err := f.store.Get(context.Background(), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInSync, entry.Status)
	assert.Equal(t, HashBytes([]byte("# hello")), entry.LastSyncedHash)
}

func TestEngineSecondCycleIsQuiet(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.writeLocal(t, "notes.md", "# hello")

	_, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)

	report, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.ChangesDetected, "a clean tree produces no changes")
}

func TestEngineSyncOnceDownloadsRemoteFile(t *testing.T) {
	f := newEngineFixture(t, nil)
	content := "# from device"
	f.sizes["/home/root/markdown/remote.md"] = int64(len(content))
	f.shell.downloadFn = func(_ context.Context, _, localPath string) error {
		return os.WriteFile(localPath, []byte(content), 0o644)
	}

	report, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)

	got, err := os.ReadFile(filepath.Join(f.settings.Sync.LocalDir, "remote.md"))
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestEngineReportsConflicts(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.writeLocal(t, "notes.md", "# local")
	require.NoError(t, f.store.Save(context.Background(), &domain.SyncEntry{
		Path:   "notes.md",
		Status: domain.StatusPendingDownload,
	}))

	report, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)

	entry, err := f.store.Get(context.Background(), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConflict, entry.Status)
}

func TestEngineRejectsConcurrentSync(t *testing.T) {
	f := newEngineFixture(t, nil)
	require.NoError(t, f.engine.acquire())
	defer f.engine.release()

	_, err := f.engine.SyncOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
}

func TestEngineStatusSummary(t *testing.T) {
	f := newEngineFixture(t, nil)
	require.NoError(t, f.store.Save(context.Background(), &domain.SyncEntry{Path: "a.md", Status: domain.StatusInSync}))
	require.NoError(t, f.store.Save(context.Background(), &domain.SyncEntry{Path: "b.md", Status: domain.StatusConflict}))
	require.NoError(t, f.store.Save(context.Background(), &domain.SyncEntry{Path: "c.md", Status: domain.StatusConflict}))

	snapshot, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Entries, 3)

	summary := snapshot.Summary()
	assert.Equal(t, 1, summary[domain.StatusInSync])
	assert.Equal(t, 2, summary[domain.StatusConflict])
}

func TestEngineResolve(t *testing.T) {
	t.Run("keep local re-uploads", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.writeLocal(t, "notes.md", "# mine")
		require.NoError(t, f.store.Save(context.Background(), &domain.SyncEntry{
			Path:   "notes.md",
			Status: domain.StatusConflict,
		}))

		require.NoError(t, f.engine.Resolve(context.Background(), "notes.md", domain.ResolveKeepLocal))

		entry, err := f.store.Get(context.Background(), "notes.md")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInSync, entry.Status)
		assert.Contains(t, f.sizes, "/home/root/markdown/notes.md")
	})

	t.Run("keep remote re-downloads", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		content := "# theirs"
		f.sizes["/home/root/markdown/notes.md"] = int64(len(content))
		f.shell.downloadFn = func(_ context.Context, _, localPath string) error {
			return os.WriteFile(localPath, []byte(content), 0o644)
		}
		f.writeLocal(t, "notes.md", "# mine")
		require.NoError(t, f.store.Save(context.Background(), &domain.SyncEntry{
			Path:   "notes.md",
			Status: domain.StatusConflict,
		}))

		require.NoError(t, f.engine.Resolve(context.Background(), "notes.md", domain.ResolveKeepRemote))

		got, err := os.ReadFile(filepath.Join(f.settings.Sync.LocalDir, "notes.md"))
		require.NoError(t, err)
		assert.Equal(t, content, string(got))
	})

	t.Run("skip accepts divergence", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.writeLocal(t, "notes.md", "# mine")
		require.NoError(t, f.store.Save(context.Background(), &domain.SyncEntry{
			Path:   "notes.md",
			Status: domain.StatusConflict,
		}))

		require.NoError(t, f.engine.Resolve(context.Background(), "notes.md", domain.ResolveSkip))

		entry, err := f.store.Get(context.Background(), "notes.md")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInSync, entry.Status)
		assert.Equal(t, HashBytes([]byte("# mine")), entry.LastSyncedHash)
	})

	t.Run("non-conflicted entry is rejected", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		require.NoError(t, f.store.Save(context.Background(), &domain.SyncEntry{
			Path:   "notes.md",
			Status: domain.StatusInSync,
		}))

		err := f.engine.Resolve(context.Background(), "notes.md", domain.ResolveKeepLocal)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("unknown path", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		err := f.engine.Resolve(context.Background(), "ghost.md", domain.ResolveKeepLocal)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestEngineRetriesPendingUploadAfterReconnect(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.writeLocal(t, "notes.md", "# hello")

	orig := f.shell.uploadFn
	f.shell.uploadFn = func(_ context.Context, _, remotePath string) error {
		return fmt.Errorf("upload %s: %w", remotePath, domain.ErrConnection)
	}

	report, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)

	entry, err := f.store.Get(context.Background(), "notes.md")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingUpload, entry.Status)

	// Connection recovers; no new change record exists for the path.
	f.shell.uploadFn = orig

	report, err = f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Empty(t, report.Errors)
	assert.Contains(t, f.sizes, "/home/root/markdown/notes.md")

	entry, err = f.store.Get(context.Background(), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInSync, entry.Status)
}

func TestEngineRetriesPendingDownloadAfterReconnect(t *testing.T) {
	f := newEngineFixture(t, nil)
	content := "# from device"
	f.sizes["/home/root/markdown/remote.md"] = int64(len(content))
	f.shell.downloadFn = func(_ context.Context, _, _ string) error {
		return fmt.Errorf("read: %w", domain.ErrTimeout)
	}

	report, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)

	entry, err := f.store.Get(context.Background(), "remote.md")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingDownload, entry.Status)

	f.shell.downloadFn = func(_ context.Context, _, localPath string) error {
		return os.WriteFile(localPath, []byte(content), 0o644)
	}

	report, err = f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)

	got, err := os.ReadFile(filepath.Join(f.settings.Sync.LocalDir, "remote.md"))
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestEngineShutdownFinishesInFlightTransfer(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.writeLocal(t, "a.md", "# first")
	f.writeLocal(t, "b.md", "# second")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The remote side rejects calls made on a dead context, so the
	// in-flight transfer only completes if it was detached from the
	// shutdown signal.
	origExec := f.shell.executeFn
	f.shell.executeFn = func(ctx context.Context, command string) (*driven.CommandResult, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
		}
		return origExec(ctx, command)
	}
	origUpload := f.shell.uploadFn
	f.shell.uploadFn = func(ctx context.Context, localPath, remotePath string) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConnection, err)
		}
		cancel() // shutdown arrives mid-transfer
		return origUpload(ctx, localPath, remotePath)
	}

	report, err := f.engine.SyncOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Uploaded, "the in-flight transfer finishes")
	assert.Empty(t, report.Errors)

	first, err := f.store.Get(context.Background(), "a.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInSync, first.Status)
	assert.Contains(t, f.sizes, "/home/root/markdown/a.md")

	second, err := f.store.Get(context.Background(), "b.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingUpload, second.Status, "queued actions are dropped, not run")
	assert.NotContains(t, f.sizes, "/home/root/markdown/b.md")

	// The dropped action is picked back up on the next cycle.
	report, err = f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Contains(t, f.sizes, "/home/root/markdown/b.md")
}

func TestEngineLocalDeleteDetectedByScan(t *testing.T) {
	f := newEngineFixture(t, func(s *domain.Settings) {
		s.Sync.AutoDeleteRemote = true
	})
	f.writeLocal(t, "notes.md", "# hello")

	_, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	require.Contains(t, f.sizes, "/home/root/markdown/notes.md")

	require.NoError(t, os.Remove(filepath.Join(f.settings.Sync.LocalDir, "notes.md")))

	report, err := f.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.NotContains(t, f.sizes, "/home/root/markdown/notes.md")
	assert.NotContains(t, f.sizes, "/home/root/markdown/notes.pdf")
}
