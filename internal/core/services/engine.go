package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/core/ports/driving"
	"github.com/remarklab/mdsync/internal/logger"
)

var _ driving.SyncService = (*Engine)(nil)

// sessionManager is the slice of the connection manager the engine
// needs: lifecycle control plus the background health probe.
type sessionManager interface {
	driving.ConnectionService
	RunHealthChecks(ctx context.Context, interval time.Duration)
}

// Engine drives the detect-plan-execute cycle. Cycles run strictly one
// after another, and actions within a cycle run strictly in order, so
// at most one transfer is ever in flight.
type Engine struct {
	settings domain.Settings
	conn     sessionManager
	detector *Detector
	planner  *Planner
	executor *Executor
	store    driven.EntryStore

	mu      sync.Mutex
	syncing bool
}

func NewEngine(
	settings domain.Settings,
	conn sessionManager,
	detector *Detector,
	planner *Planner,
	executor *Executor,
	store driven.EntryStore,
) *Engine {
	return &Engine{
		settings: settings,
		conn:     conn,
		detector: detector,
		planner:  planner,
		executor: executor,
		store:    store,
	}
}

// SyncOnce runs a single full cycle: scan both sides, plan, execute.
func (e *Engine) SyncOnce(ctx context.Context) (*driving.SyncReport, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	if err := e.conn.Connect(ctx); err != nil {
		return nil, err
	}

	records := e.scanLocal(ctx)
	records = append(records, e.detector.Flush()...)
	records = append(records, e.detector.Poll(ctx)...)

	return e.runCycle(ctx, records)
}

// Watch runs cycles continuously until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	if err := e.conn.Connect(ctx); err != nil {
		return err
	}

	go e.detector.Run(ctx)
	if e.settings.Sync.HealthCheckInterval > 0 {
		go e.conn.RunHealthChecks(ctx, e.settings.Sync.HealthCheckInterval)
	}

	// First cycle reconciles everything that changed while not running.
	initial := e.scanLocal(ctx)
	initial = append(initial, e.detector.Poll(ctx)...)
	if report, err := e.runCycle(ctx, initial); err == nil {
		logReport(report)
	} else if !errors.Is(err, context.Canceled) {
		logger.Error("initial sync: %v", err)
	}

	// The limiter paces cycles: at most one per poll interval, with no
	// drift accumulation across slow cycles.
	limiter := rate.NewLimiter(rate.Every(e.settings.Sync.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		report, err := e.runCycle(ctx, e.detector.Poll(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Error("sync cycle: %v", err)
			continue
		}
		logReport(report)
	}
}

// Status returns a snapshot of all tracked entries and the connection
// state.
func (e *Engine) Status(ctx context.Context) (*driving.StatusSnapshot, error) {
	entries, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	state, _ := e.conn.State()
	return &driving.StatusSnapshot{Connection: state, Entries: entries}, nil
}

// Resolve applies an explicit decision to a conflicted entry.
func (e *Engine) Resolve(ctx context.Context, path string, resolution domain.ConflictResolution) error {
	entry, err := e.store.Get(ctx, path)
	if err != nil {
		return err
	}
	if entry.Status != domain.StatusConflict {
		return fmt.Errorf("%w: %s is not conflicted (status %s)", domain.ErrInvalidInput, path, entry.Status)
	}

	switch resolution {
	case domain.ResolveKeepLocal:
		entry.Status = domain.StatusPendingUpload
		entry.LastError = ""
		if err := e.store.Save(ctx, entry); err != nil {
			return err
		}
		kind := domain.ActionUpload
		if e.settings.Sync.ConvertToPDF && e.settings.Sync.IsMarkdown(path) {
			kind = domain.ActionConvertThenUpload
		}
		if _, err := e.executor.Apply(ctx, domain.SyncAction{Path: path, Kind: kind, Reason: "conflict resolved: keep local"}); err != nil {
			return err
		}
		return e.executor.FlushDeviceUI(ctx)

	case domain.ResolveKeepRemote:
		entry.Status = domain.StatusPendingDownload
		entry.LastError = ""
		if err := e.store.Save(ctx, entry); err != nil {
			return err
		}
		_, err := e.executor.Apply(ctx, domain.SyncAction{Path: path, Kind: domain.ActionDownload, Reason: "conflict resolved: keep remote"})
		return err

	case domain.ResolveSkip:
		// Accept the divergence: both sides stand as they are.
		hash, err := HashFile(filepath.Join(e.settings.Sync.LocalDir, filepath.FromSlash(path)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		entry.Status = domain.StatusInSync
		entry.ContentHash = hash
		entry.LastSyncedHash = hash
		entry.LastSyncedAt = time.Now()
		entry.LastError = ""
		return e.store.Save(ctx, entry)

	default:
		return fmt.Errorf("%w: unknown resolution %q", domain.ErrInvalidInput, resolution)
	}
}

// runCycle plans and executes one batch of change records, plus whatever
// an earlier cycle left pending.
func (e *Engine) runCycle(ctx context.Context, records []domain.ChangeRecord) (*driving.SyncReport, error) {
	report := &driving.SyncReport{ChangesDetected: len(records)}

	var actions []domain.SyncAction
	if len(records) > 0 {
		planned, err := e.planner.Plan(ctx, records)
		if err != nil {
			return report, err
		}
		actions = planned
	}

	// Entries a failed transfer left pending produce no fresh change
	// record, so the status table is swept every cycle.
	resumed, err := e.planner.Resume(ctx)
	if err != nil {
		return report, err
	}
	actions = append(actions, resumed...)
	report.ChangesDetected += len(resumed)

	if len(actions) == 0 {
		report.Conflicts = e.countConflicts(ctx, records)
		return report, nil
	}

	for i, action := range actions {
		// The in-flight action runs to completion even during shutdown;
		// the outer ctx check below drops the queued rest.
		applied, err := e.executor.Apply(context.WithoutCancel(ctx), action)
		e.planner.MarkDone(action.Path)
		switch {
		case err != nil:
			report.Errors = append(report.Errors, driving.ActionError{
				Path:   action.Path,
				Action: action.Kind.String(),
				Reason: err.Error(),
			})
		case !applied:
			report.Skipped++
		default:
			switch action.Kind {
			case domain.ActionConvertThenUpload:
				report.Converted++
				report.Uploaded++
			case domain.ActionUpload:
				report.Uploaded++
			case domain.ActionDownload:
				report.Downloaded++
			case domain.ActionDeleteRemote, domain.ActionDeleteLocal:
				report.Deleted++
			}
		}
		if ctx.Err() != nil {
			// Drop the queued remainder; released here so the next
			// cycle's sweep picks the pending entries back up.
			for _, rest := range actions[i+1:] {
				e.planner.MarkDone(rest.Path)
			}
			break
		}
	}

	if err := e.executor.FlushDeviceUI(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("device ui refresh failed: %v", err)
	}

	report.Conflicts = e.countConflicts(ctx, records)
	return report, ctx.Err()
}

// countConflicts counts the records' paths whose entries ended the
// cycle conflicted.
func (e *Engine) countConflicts(ctx context.Context, records []domain.ChangeRecord) int {
	seen := map[string]bool{}
	conflicts := 0
	for _, rec := range records {
		if seen[rec.Path] {
			continue
		}
		seen[rec.Path] = true
		if entry, err := e.store.Get(ctx, rec.Path); err == nil && entry.Status == domain.StatusConflict {
			conflicts++
		}
	}
	return conflicts
}

// scanLocal walks the local directory and synthesizes change records
// against the persisted entries, catching everything that happened
// while the watcher was not running.
func (e *Engine) scanLocal(ctx context.Context) []domain.ChangeRecord {
	root := e.settings.Sync.LocalDir
	now := time.Now()

	onDisk := map[string]bool{}
	var records []domain.ChangeRecord

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && e.settings.Sync.ShouldIgnore(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if e.settings.Sync.ShouldIgnore(rel) {
			return nil
		}
		onDisk[rel] = true

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		entry, getErr := e.store.Get(ctx, rel)
		switch {
		case errors.Is(getErr, domain.ErrNotFound):
			records = append(records, domain.ChangeRecord{
				Path: rel, Origin: domain.OriginLocal, Kind: domain.ChangeCreated,
				ObservedAt: now, ModTime: info.ModTime(),
			})
		case getErr == nil && !info.ModTime().Equal(entry.LocalMTime):
			records = append(records, domain.ChangeRecord{
				Path: rel, Origin: domain.OriginLocal, Kind: domain.ChangeModified,
				ObservedAt: now, ModTime: info.ModTime(),
			})
		}
		return nil
	})
	if err != nil {
		logger.Warn("local scan incomplete: %v", err)
	}

	entries, err := e.store.List(ctx)
	if err != nil {
		logger.Warn("local scan could not list entries: %v", err)
		return records
	}
	for _, entry := range entries {
		if !onDisk[entry.Path] && !entry.LocalMTime.IsZero() {
			records = append(records, domain.ChangeRecord{
				Path: entry.Path, Origin: domain.OriginLocal, Kind: domain.ChangeDeleted,
				ObservedAt: now,
			})
		}
	}
	return records
}

func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return domain.ErrSyncInProgress
	}
	e.syncing = true
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.syncing = false
	e.mu.Unlock()
}

func logReport(r *driving.SyncReport) {
	if r.ChangesDetected == 0 {
		return
	}
	logger.Info("cycle: %d changes, %d uploaded, %d downloaded, %d deleted, %d converted, %d skipped, %d conflicts, %d errors",
		r.ChangesDetected, r.Uploaded, r.Downloaded, r.Deleted, r.Converted, r.Skipped, r.Conflicts, len(r.Errors))
	for _, e := range r.Errors {
		logger.Warn("%s %s failed: %s", e.Action, e.Path, e.Reason)
	}
}
