// Package fswatch implements the local watcher port on top of fsnotify.
package fswatch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/logger"
)

var _ driven.LocalWatcher = (*Watcher)(nil)

// Watcher emits file events for a directory tree. fsnotify watches are
// not recursive, so every subdirectory is registered individually and
// directories created at runtime are added as they appear.
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
}

func New(root string) *Watcher {
	return &Watcher{root: root}
}

// Start begins watching and returns the event channel. The channel is
// closed when ctx is cancelled or the notification primitive fails.
func (w *Watcher) Start(ctx context.Context) (<-chan driven.FileEvent, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrWatch, err)
	}
	if err := addDirsRecursive(fsw, w.root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrWatch, err)
	}
	w.fsw = fsw

	out := make(chan driven.FileEvent)
	go w.run(ctx, fsw, out)
	logger.Debug("watching %s", w.root)
	return out, nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, out chan<- driven.FileEvent) {
	defer close(out)
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("watch error: %v", err)

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fsw, ev.Name); addErr != nil {
						logger.Warn("watching new directory %s: %v", ev.Name, addErr)
					}
					continue
				}
			}

			kind, ok := mapOp(ev.Op)
			if !ok {
				continue
			}
			rel, relErr := filepath.Rel(w.root, ev.Name)
			if relErr != nil {
				continue
			}

			select {
			case out <- driven.FileEvent{
				Path: filepath.ToSlash(rel),
				Kind: kind,
				At:   time.Now(),
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close releases the watch resources.
func (w *Watcher) Close() error {
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

// mapOp translates an fsnotify op into a change kind. A rename is a
// delete of the old name; the new name arrives as its own create.
func mapOp(op fsnotify.Op) (domain.ChangeKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return domain.ChangeCreated, true
	case op&fsnotify.Write != 0:
		return domain.ChangeModified, true
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return domain.ChangeDeleted, true
	default:
		return 0, false
	}
}

func addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
