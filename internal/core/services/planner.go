package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/logger"
)

// Planner turns change records into sync actions by walking each entry
// through its status transitions. Every transition is persisted before the
// corresponding action is returned, so a crash between planning and
// execution leaves the entry in a resumable Pending state.
type Planner struct {
	store    driven.EntryStore
	shell    driven.RemoteShell
	settings domain.Settings

	mu      sync.Mutex
	planned map[string]bool

	hashFile func(string) (string, error)
	now      func() time.Time
}

func NewPlanner(store driven.EntryStore, shell driven.RemoteShell, settings domain.Settings) *Planner {
	return &Planner{
		store:    store,
		shell:    shell,
		settings: settings,
		planned:  map[string]bool{},
		hashFile: HashFile,
		now:      time.Now,
	}
}

// pathChanges holds the latest record per origin for one path within a batch.
type pathChanges struct {
	local  *domain.ChangeRecord
	remote *domain.ChangeRecord
}

// Plan maps a batch of change records onto sync actions. Records for the
// same path are grouped so that simultaneous local and remote changes are
// seen together and can be tie-broken instead of racing each other.
func (p *Planner) Plan(ctx context.Context, records []domain.ChangeRecord) ([]domain.SyncAction, error) {
	grouped := map[string]*pathChanges{}
	for i := range records {
		rec := records[i]
		if p.settings.Sync.ShouldIgnore(rec.Path) {
			continue
		}
		pc := grouped[rec.Path]
		if pc == nil {
			pc = &pathChanges{}
			grouped[rec.Path] = pc
		}
		switch rec.Origin {
		case domain.OriginLocal:
			pc.local = &records[i]
		case domain.OriginRemote:
			pc.remote = &records[i]
		}
	}

	paths := make([]string, 0, len(grouped))
	for path := range grouped {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var actions []domain.SyncAction
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return actions, err
		}
		action, err := p.planPath(ctx, path, grouped[path])
		if err != nil {
			return actions, err
		}
		if action != nil {
			actions = append(actions, *action)
		}
	}
	return actions, nil
}

// Resume synthesizes actions for entries an earlier cycle left pending,
// typically after a connection drop interrupted the transfer. The status
// table is the source of truth here: a pending entry is retried even though
// no fresh change record names it.
func (p *Planner) Resume(ctx context.Context) ([]domain.SyncAction, error) {
	entries, err := p.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var actions []domain.SyncAction
	for i := range entries {
		entry := &entries[i]
		if entry.Status != domain.StatusPendingUpload && entry.Status != domain.StatusPendingDownload {
			continue
		}
		if p.isPlanned(entry.Path) {
			continue
		}
		action, err := p.resumeEntry(ctx, entry)
		if err != nil {
			return actions, err
		}
		if action != nil {
			actions = append(actions, *action)
		}
	}
	return actions, nil
}

func (p *Planner) resumeEntry(ctx context.Context, entry *domain.SyncEntry) (*domain.SyncAction, error) {
	switch entry.Status {
	case domain.StatusPendingUpload:
		if _, err := os.Stat(p.localPath(entry.Path)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// The pending change was a delete all along.
				return p.planLocalDelete(ctx, entry)
			}
			return nil, err
		}
		p.markPlanned(entry.Path)
		kind := domain.ActionUpload
		if p.settings.Sync.ConvertToPDF && p.settings.Sync.IsMarkdown(entry.Path) {
			kind = domain.ActionConvertThenUpload
		}
		return &domain.SyncAction{Path: entry.Path, Kind: kind, Reason: "retry interrupted upload"}, nil

	case domain.StatusPendingDownload:
		remote, err := p.shell.Stat(ctx, p.remotePath(entry.Path))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return p.planRemoteDelete(ctx, entry)
			}
			// Likely still disconnected. The entry stays pending and the
			// next cycle tries again.
			logger.Debug("cannot resume %s yet: %v", entry.Path, err)
			return nil, nil
		}
		p.markPlanned(entry.Path)
		return &domain.SyncAction{
			Path:       entry.Path,
			Kind:       domain.ActionDownload,
			Reason:     "retry interrupted download",
			RemoteSize: remote.Size,
		}, nil
	}
	return nil, nil
}

// MarkDone releases the path's action slot so a later change can plan a new
// action for it. Called by the engine once the executor finishes, whatever
// the outcome.
func (p *Planner) MarkDone(path string) {
	p.mu.Lock()
	delete(p.planned, path)
	p.mu.Unlock()
}

func (p *Planner) isPlanned(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.planned[path]
}

func (p *Planner) markPlanned(path string) {
	p.mu.Lock()
	p.planned[path] = true
	p.mu.Unlock()
}

func (p *Planner) planPath(ctx context.Context, path string, pc *pathChanges) (*domain.SyncAction, error) {
	entry, err := p.store.Get(ctx, path)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		entry = &domain.SyncEntry{Path: path, Status: domain.StatusInSync}
	}

	if pc.local != nil && pc.remote != nil {
		return p.planBothOrigins(ctx, entry, pc.local, pc.remote)
	}
	if pc.local != nil {
		return p.planLocal(ctx, entry, pc.local)
	}
	return p.planRemote(ctx, entry, pc.remote)
}

// planBothOrigins handles a path that changed on both sides within one
// batch. Identical content converges without user input; divergent content
// is never silently overwritten.
func (p *Planner) planBothOrigins(ctx context.Context, entry *domain.SyncEntry, local, remote *domain.ChangeRecord) (*domain.SyncAction, error) {
	localDeleted := local.Kind == domain.ChangeDeleted
	remoteDeleted := remote.Kind == domain.ChangeDeleted

	switch {
	case localDeleted && remoteDeleted:
		if err := p.store.Delete(ctx, entry.Path); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return p.skip(entry.Path, "removed on both sides"), nil

	case localDeleted:
		// The remote copy survives with edits; downloading loses nothing.
		return p.planRemote(ctx, entry, remote)

	case remoteDeleted:
		// The local copy carries unsynced edits; re-uploading recreates it.
		return p.planLocal(ctx, entry, local)
	}

	localHash, err := p.hashFile(p.localPath(entry.Path))
	if err != nil {
		return nil, p.markConflict(ctx, entry, fmt.Sprintf("changed on both sides, local unreadable: %v", err))
	}
	remoteHash, err := p.shell.Checksum(ctx, p.remotePath(entry.Path))
	if err != nil {
		return nil, p.markConflict(ctx, entry, fmt.Sprintf("changed on both sides, remote checksum unavailable: %v", err))
	}

	if localHash == remoteHash {
		entry.ContentHash = localHash
		entry.LastSyncedHash = localHash
		entry.LastSyncedAt = p.now()
		entry.LocalMTime = local.ModTime
		entry.RemoteMTime = remote.ModTime
		entry.Status = domain.StatusInSync
		entry.LastError = ""
		if err := p.save(ctx, entry); err != nil {
			return nil, err
		}
		return p.skip(entry.Path, "changed on both sides with identical content"), nil
	}
	return nil, p.markConflict(ctx, entry, "changed on both sides with divergent content")
}

func (p *Planner) planLocal(ctx context.Context, entry *domain.SyncEntry, rec *domain.ChangeRecord) (*domain.SyncAction, error) {
	if entry.Status == domain.StatusConflict {
		return p.skip(entry.Path, "unresolved conflict"), nil
	}

	if rec.Kind == domain.ChangeDeleted {
		return p.planLocalDelete(ctx, entry)
	}

	// A change arriving while a download is pending means both sides moved.
	if entry.Status == domain.StatusPendingDownload {
		return nil, p.markConflict(ctx, entry, "local change while download pending")
	}

	hash, err := p.hashFile(p.localPath(entry.Path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Created then removed within one debounce window.
			return p.planLocalDelete(ctx, entry)
		}
		return nil, err
	}

	// Downloads land on disk and echo back through the watcher; the hash
	// matching the last synced content identifies the echo.
	if entry.LastSyncedHash != "" && hash == entry.LastSyncedHash {
		entry.ContentHash = hash
		entry.LocalMTime = rec.ModTime
		entry.Status = domain.StatusInSync
		entry.LastError = ""
		if err := p.save(ctx, entry); err != nil {
			return nil, err
		}
		return p.skip(entry.Path, "content unchanged since last sync"), nil
	}

	entry.ContentHash = hash
	entry.LocalMTime = rec.ModTime

	if !p.settings.Sync.IsMarkdown(entry.Path) {
		// Tracked for rename and delete bookkeeping, never uploaded.
		entry.Status = domain.StatusInSync
		if err := p.save(ctx, entry); err != nil {
			return nil, err
		}
		return p.skip(entry.Path, "unsupported extension"), nil
	}

	alreadyPending := entry.Status == domain.StatusPendingUpload
	entry.Status = domain.StatusPendingUpload
	entry.LastError = ""
	if err := p.save(ctx, entry); err != nil {
		return nil, err
	}

	if alreadyPending && p.isPlanned(entry.Path) {
		return nil, nil
	}
	p.markPlanned(entry.Path)

	kind := domain.ActionUpload
	if p.settings.Sync.ConvertToPDF {
		kind = domain.ActionConvertThenUpload
	}
	return &domain.SyncAction{Path: entry.Path, Kind: kind, Reason: "local " + rec.Kind.String()}, nil
}

func (p *Planner) planLocalDelete(ctx context.Context, entry *domain.SyncEntry) (*domain.SyncAction, error) {
	if entry.LastSyncedAt.IsZero() {
		// Never reached the device; nothing remote to remove.
		if err := p.store.Delete(ctx, entry.Path); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return p.skip(entry.Path, "deleted before first sync"), nil
	}

	if !p.settings.Sync.AutoDeleteRemote {
		logger.Warn("%s deleted locally; keeping remote copy (auto-delete disabled)", entry.Path)
		return p.skip(entry.Path, "local delete, remote copy kept"), nil
	}

	entry.Status = domain.StatusPendingUpload
	entry.LastError = ""
	if err := p.save(ctx, entry); err != nil {
		return nil, err
	}
	if p.isPlanned(entry.Path) {
		return nil, nil
	}
	p.markPlanned(entry.Path)
	return &domain.SyncAction{Path: entry.Path, Kind: domain.ActionDeleteRemote, Reason: "local delete"}, nil
}

func (p *Planner) planRemote(ctx context.Context, entry *domain.SyncEntry, rec *domain.ChangeRecord) (*domain.SyncAction, error) {
	if entry.Status == domain.StatusConflict {
		return p.skip(entry.Path, "unresolved conflict"), nil
	}

	if rec.Kind == domain.ChangeDeleted {
		return p.planRemoteDelete(ctx, entry)
	}

	if entry.Status == domain.StatusPendingUpload {
		return nil, p.markConflict(ctx, entry, "remote change while upload pending")
	}

	// Uploads bump the remote mtime; a listing entry no newer than what we
	// recorded at upload time is our own write coming back.
	if !entry.RemoteMTime.IsZero() && !rec.ModTime.After(entry.RemoteMTime) {
		return p.skip(entry.Path, "remote copy already synced"), nil
	}

	if p.isDerivedArtifact(ctx, entry.Path) {
		return p.skip(entry.Path, "derived artifact of a tracked document"), nil
	}

	// An entry left in Error by a failed upload may still hold local edits;
	// downloading over them would lose work.
	if entry.Status == domain.StatusError && entry.LastSyncedHash != "" {
		if hash, err := p.hashFile(p.localPath(entry.Path)); err == nil && hash != entry.LastSyncedHash {
			return nil, p.markConflict(ctx, entry, "remote change over unsynced local edits")
		}
	}

	alreadyPending := entry.Status == domain.StatusPendingDownload
	entry.RemoteMTime = rec.ModTime
	entry.Status = domain.StatusPendingDownload
	entry.LastError = ""
	if err := p.save(ctx, entry); err != nil {
		return nil, err
	}

	if alreadyPending && p.isPlanned(entry.Path) {
		return nil, nil
	}
	p.markPlanned(entry.Path)
	return &domain.SyncAction{
		Path:       entry.Path,
		Kind:       domain.ActionDownload,
		Reason:     "remote " + rec.Kind.String(),
		RemoteSize: rec.Size,
	}, nil
}

func (p *Planner) planRemoteDelete(ctx context.Context, entry *domain.SyncEntry) (*domain.SyncAction, error) {
	// Local edits made since the last sync outlive a remote delete.
	if entry.LastSyncedHash != "" {
		if hash, err := p.hashFile(p.localPath(entry.Path)); err == nil && hash != entry.LastSyncedHash {
			logger.Info("%s deleted remotely but locally modified; keeping local copy", entry.Path)
			entry.Status = domain.StatusPendingUpload
			entry.LastError = ""
			if err := p.save(ctx, entry); err != nil {
				return nil, err
			}
			if p.isPlanned(entry.Path) {
				return nil, nil
			}
			p.markPlanned(entry.Path)
			kind := domain.ActionUpload
			if p.settings.Sync.ConvertToPDF && p.settings.Sync.IsMarkdown(entry.Path) {
				kind = domain.ActionConvertThenUpload
			}
			return &domain.SyncAction{Path: entry.Path, Kind: kind, Reason: "recreate after remote delete"}, nil
		}
	}

	if !p.settings.Sync.AutoDeleteLocal {
		logger.Warn("%s deleted remotely; keeping local copy (auto-delete disabled)", entry.Path)
		return p.skip(entry.Path, "remote delete, local copy kept"), nil
	}

	entry.Status = domain.StatusPendingDownload
	entry.LastError = ""
	if err := p.save(ctx, entry); err != nil {
		return nil, err
	}
	if p.isPlanned(entry.Path) {
		return nil, nil
	}
	p.markPlanned(entry.Path)
	return &domain.SyncAction{Path: entry.Path, Kind: domain.ActionDeleteLocal, Reason: "remote delete"}, nil
}

// isDerivedArtifact reports whether path is a PDF the engine itself produced
// by converting a tracked markdown document.
func (p *Planner) isDerivedArtifact(ctx context.Context, path string) bool {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return false
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range p.settings.Sync.MarkdownExtensions {
		if _, err := p.store.Get(ctx, stem+ext); err == nil {
			return true
		}
	}
	return false
}

func (p *Planner) markConflict(ctx context.Context, entry *domain.SyncEntry, reason string) error {
	logger.Warn("conflict on %s: %s", entry.Path, reason)
	entry.Status = domain.StatusConflict
	entry.LastError = reason
	return p.save(ctx, entry)
}

func (p *Planner) save(ctx context.Context, entry *domain.SyncEntry) error {
	entry.UpdatedAt = p.now()
	return p.store.Save(ctx, entry)
}

func (p *Planner) skip(path, reason string) *domain.SyncAction {
	return &domain.SyncAction{Path: path, Kind: domain.ActionSkip, Reason: reason}
}

func (p *Planner) localPath(rel string) string {
	return filepath.Join(p.settings.Sync.LocalDir, filepath.FromSlash(rel))
}

func (p *Planner) remotePath(rel string) string {
	return p.settings.Sync.RemoteDir + "/" + rel
}
