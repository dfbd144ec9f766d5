package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/logger"
)

// DocumentRegistrar registers rendered documents with the device UI.
type DocumentRegistrar interface {
	Register(ctx context.Context, localPDF, title string) (string, error)
	Update(ctx context.Context, docID, localPDF, title string) error
	FindByTitle(ctx context.Context, title string) (string, error)
	Remove(ctx context.Context, docID string) error
	Restart(ctx context.Context) error
}

// Executor carries out planned sync actions one at a time. Transfers
// land under a temporary name and are renamed into place only after the
// byte count verifies, so an interrupted transfer never leaves a
// half-written file at the destination.
type Executor struct {
	store     driven.EntryStore
	shell     driven.RemoteShell
	conv      *Conversion
	registrar DocumentRegistrar
	detector  *Detector
	backups   *Backups
	settings  domain.Settings

	now func() time.Time

	mu      sync.Mutex
	uiDirty bool
}

func NewExecutor(
	store driven.EntryStore,
	shell driven.RemoteShell,
	conv *Conversion,
	registrar DocumentRegistrar,
	detector *Detector,
	backups *Backups,
	settings domain.Settings,
) *Executor {
	return &Executor{
		store:     store,
		shell:     shell,
		conv:      conv,
		registrar: registrar,
		detector:  detector,
		backups:   backups,
		settings:  settings,
		now:       time.Now,
	}
}

// Apply executes one action. The returned bool reports whether the
// action did real work; a stale action whose entry moved on since
// planning is dropped without error.
func (e *Executor) Apply(ctx context.Context, action domain.SyncAction) (bool, error) {
	switch action.Kind {
	case domain.ActionSkip:
		logger.Debug("skip %s: %s", action.Path, action.Reason)
		return false, nil
	case domain.ActionUpload:
		return e.upload(ctx, action.Path, false)
	case domain.ActionConvertThenUpload:
		return e.upload(ctx, action.Path, true)
	case domain.ActionDownload:
		return e.download(ctx, action)
	case domain.ActionDeleteRemote:
		return e.deleteRemote(ctx, action.Path)
	case domain.ActionDeleteLocal:
		return e.deleteLocal(ctx, action.Path)
	default:
		return false, fmt.Errorf("%w: unknown action %d", domain.ErrInvalidInput, action.Kind)
	}
}

// FlushDeviceUI restarts the device UI once if any registration changed
// during the cycle.
func (e *Executor) FlushDeviceUI(ctx context.Context) error {
	e.mu.Lock()
	dirty := e.uiDirty
	e.uiDirty = false
	e.mu.Unlock()

	if !dirty || e.registrar == nil {
		return nil
	}
	return e.registrar.Restart(ctx)
}

func (e *Executor) upload(ctx context.Context, rel string, convert bool) (bool, error) {
	entry, ok, err := e.claim(ctx, rel, domain.StatusPendingUpload)
	if err != nil || !ok {
		return false, err
	}

	localPath := e.localPath(rel)
	data, err := os.ReadFile(localPath)
	if err != nil {
		return false, e.fail(ctx, entry, fmt.Errorf("read %s: %w", rel, err))
	}
	hash := HashBytes(data)

	remotePath := e.remotePath(rel)
	remote, err := e.pushFile(ctx, localPath, remotePath, int64(len(data)))
	if err != nil {
		return false, e.fail(ctx, entry, err)
	}

	if convert {
		if err := e.renderAndShip(ctx, rel, data); err != nil {
			return false, e.fail(ctx, entry, err)
		}
	}

	info, err := os.Stat(localPath)
	if err == nil {
		entry.LocalMTime = info.ModTime()
	}
	entry.ContentHash = hash
	entry.LastSyncedHash = hash
	entry.LastSyncedAt = e.now()
	entry.RemoteMTime = remote.ModTime
	entry.Status = domain.StatusInSync
	entry.LastError = ""
	entry.UpdatedAt = e.now()
	if err := e.store.Save(ctx, entry); err != nil {
		return false, err
	}

	if e.detector != nil {
		e.detector.NoteUploaded(rel, *remote)
	}
	logger.Info("uploaded %s (%d bytes)", rel, len(data))
	return true, nil
}

// renderAndShip converts markdown to PDF and delivers it: registered
// with the device UI when enabled, or dropped next to the source file
// otherwise.
func (e *Executor) renderAndShip(ctx context.Context, rel string, markdown []byte) error {
	pdf, err := e.conv.Render(ctx, rel, markdown)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "mdsync-*.pdf")
	if err != nil {
		return fmt.Errorf("render %s: %w", rel, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(pdf); err != nil {
		tmp.Close()
		return fmt.Errorf("render %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("render %s: %w", rel, err)
	}

	if e.settings.Sync.RegisterOnDevice && e.registrar != nil {
		title := docTitle(rel)
		docID, err := e.registrar.FindByTitle(ctx, title)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if _, err := e.registrar.Register(ctx, tmpPath, title); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := e.registrar.Update(ctx, docID, tmpPath, title); err != nil {
				return err
			}
		}
		e.mu.Lock()
		e.uiDirty = true
		e.mu.Unlock()
		return nil
	}

	pdfRel := pdfSibling(rel)
	remote, err := e.pushFile(ctx, tmpPath, e.remotePath(pdfRel), int64(len(pdf)))
	if err != nil {
		return err
	}
	if e.detector != nil {
		e.detector.NoteUploaded(pdfRel, *remote)
	}
	return nil
}

// pushFile uploads under a temporary dotfile name, verifies the
// transferred byte count and renames into place.
func (e *Executor) pushFile(ctx context.Context, localPath, remotePath string, size int64) (*driven.RemoteFile, error) {
	tmpPath := path.Join(path.Dir(remotePath), "."+path.Base(remotePath)+".part")

	if err := e.shell.Upload(ctx, localPath, tmpPath); err != nil {
		return nil, err
	}

	staged, err := e.shell.Stat(ctx, tmpPath)
	if err != nil {
		return nil, err
	}
	if staged.Size != size {
		_, _ = e.shell.Execute(ctx, "rm -f "+shQuote(tmpPath))
		return nil, fmt.Errorf("%w: %s: wrote %d of %d bytes", domain.ErrRemoteIO, remotePath, staged.Size, size)
	}

	result, err := e.shell.Execute(ctx, fmt.Sprintf("mv -f %s %s", shQuote(tmpPath), shQuote(remotePath)))
	if err != nil {
		return nil, err
	}
	if !result.Success() {
		return nil, fmt.Errorf("%w: rename %s: %s", domain.ErrRemoteIO, remotePath, result.Stderr)
	}

	return e.shell.Stat(ctx, remotePath)
}

func (e *Executor) download(ctx context.Context, action domain.SyncAction) (bool, error) {
	rel := action.Path
	entry, ok, err := e.claim(ctx, rel, domain.StatusPendingDownload)
	if err != nil || !ok {
		return false, err
	}

	remotePath := e.remotePath(rel)
	remote, err := e.shell.Stat(ctx, remotePath)
	if err != nil {
		return false, e.fail(ctx, entry, err)
	}

	// A size differing from what the plan saw means the remote moved on
	// after planning; the next cycle replans against fresh listing data.
	if action.RemoteSize > 0 && remote.Size != action.RemoteSize {
		logger.Debug("dropping stale download for %s: size %d, planned %d", rel, remote.Size, action.RemoteSize)
		return false, nil
	}

	if e.backups != nil {
		if _, err := e.backups.Snapshot(rel); err != nil {
			return false, e.fail(ctx, entry, err)
		}
	}

	localPath := e.localPath(rel)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return false, e.fail(ctx, entry, fmt.Errorf("download %s: %w", rel, err))
	}

	// The dotted temp name keeps the watcher from reporting the
	// half-written file.
	tmpPath := filepath.Join(filepath.Dir(localPath), "."+filepath.Base(localPath)+".part")
	if err := e.shell.Download(ctx, remotePath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return false, e.fail(ctx, entry, err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return false, e.fail(ctx, entry, fmt.Errorf("download %s: %w", rel, err))
	}
	if info.Size() != remote.Size {
		os.Remove(tmpPath)
		return false, e.fail(ctx, entry,
			fmt.Errorf("%w: %s: received %d of %d bytes", domain.ErrRemoteIO, rel, info.Size(), remote.Size))
	}

	hash, err := HashFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return false, e.fail(ctx, entry, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return false, e.fail(ctx, entry, fmt.Errorf("download %s: %w", rel, err))
	}

	entry.ContentHash = hash
	entry.LastSyncedHash = hash
	entry.LastSyncedAt = e.now()
	if localInfo, statErr := os.Stat(localPath); statErr == nil {
		entry.LocalMTime = localInfo.ModTime()
	}
	entry.RemoteMTime = remote.ModTime
	entry.Status = domain.StatusInSync
	entry.LastError = ""
	entry.UpdatedAt = e.now()
	if err := e.store.Save(ctx, entry); err != nil {
		return false, err
	}

	logger.Info("downloaded %s (%d bytes)", rel, remote.Size)
	return true, nil
}

func (e *Executor) deleteRemote(ctx context.Context, rel string) (bool, error) {
	entry, ok, err := e.claim(ctx, rel, domain.StatusPendingUpload)
	if err != nil || !ok {
		return false, err
	}

	targets := shQuote(e.remotePath(rel))
	pdfRel := ""
	if e.settings.Sync.ConvertToPDF && e.settings.Sync.IsMarkdown(rel) {
		pdfRel = pdfSibling(rel)
		targets += " " + shQuote(e.remotePath(pdfRel))
	}

	result, err := e.shell.Execute(ctx, "rm -f "+targets)
	if err != nil {
		return false, e.fail(ctx, entry, err)
	}
	if !result.Success() {
		return false, e.fail(ctx, entry,
			fmt.Errorf("%w: delete %s: %s", domain.ErrRemoteIO, rel, result.Stderr))
	}

	if e.settings.Sync.RegisterOnDevice && e.registrar != nil {
		docID, err := e.registrar.FindByTitle(ctx, docTitle(rel))
		if err == nil {
			if err := e.registrar.Remove(ctx, docID); err != nil {
				return false, e.fail(ctx, entry, err)
			}
			e.mu.Lock()
			e.uiDirty = true
			e.mu.Unlock()
		} else if !errors.Is(err, domain.ErrNotFound) {
			return false, e.fail(ctx, entry, err)
		}
	}

	if err := e.store.Delete(ctx, rel); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if e.detector != nil {
		e.detector.NoteRemoteDeleted(rel)
		if pdfRel != "" {
			e.detector.NoteRemoteDeleted(pdfRel)
		}
	}
	e.conv.Invalidate(rel)
	logger.Info("deleted %s on device", rel)
	return true, nil
}

func (e *Executor) deleteLocal(ctx context.Context, rel string) (bool, error) {
	entry, ok, err := e.claim(ctx, rel, domain.StatusPendingDownload)
	if err != nil || !ok {
		return false, err
	}

	if e.backups != nil {
		if _, err := e.backups.Snapshot(rel); err != nil {
			return false, e.fail(ctx, entry, err)
		}
	}
	if err := os.Remove(e.localPath(rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, e.fail(ctx, entry, fmt.Errorf("delete %s: %w", rel, err))
	}

	if err := e.store.Delete(ctx, rel); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	e.conv.Invalidate(rel)
	logger.Info("deleted %s locally", rel)
	return true, nil
}

// claim loads the entry and checks it is still in the status the action
// was planned against. A mismatch means the entry moved on, usually
// into conflict, and the action is stale.
func (e *Executor) claim(ctx context.Context, rel string, want domain.EntryStatus) (*domain.SyncEntry, bool, error) {
	entry, err := e.store.Get(ctx, rel)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug("dropping stale action for %s: entry gone", rel)
			return nil, false, nil
		}
		return nil, false, err
	}
	if entry.Status != want {
		logger.Debug("dropping stale action for %s: status %s", rel, entry.Status)
		return nil, false, nil
	}
	return entry, true, nil
}

// fail records the outcome of a failed action. Connection-class
// failures keep the entry pending so the action replans after the
// session recovers; everything else parks the entry in error.
func (e *Executor) fail(ctx context.Context, entry *domain.SyncEntry, actionErr error) error {
	if domain.IsConnectionError(actionErr) {
		entry.LastError = actionErr.Error()
	} else {
		entry.Status = domain.StatusError
		entry.LastError = actionErr.Error()
	}
	entry.UpdatedAt = e.now()
	if err := e.store.Save(ctx, entry); err != nil {
		logger.Error("recording failure for %s: %v", entry.Path, err)
	}
	return actionErr
}

func (e *Executor) localPath(rel string) string {
	return filepath.Join(e.settings.Sync.LocalDir, filepath.FromSlash(rel))
}

func (e *Executor) remotePath(rel string) string {
	return e.settings.Sync.RemoteDir + "/" + rel
}

// docTitle is the visible document name: the base name without its
// extension.
func docTitle(rel string) string {
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// pdfSibling maps a markdown path to its rendered artifact path.
func pdfSibling(rel string) string {
	return strings.TrimSuffix(rel, filepath.Ext(rel)) + ".pdf"
}

// shQuote single-quotes s for the remote POSIX shell.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
