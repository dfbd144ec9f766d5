package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/logger"
)

// backupStamp is lexically sortable, so pruning can drop the oldest
// copies without parsing.
const backupStamp = "20060102-150405.000000000"

// Backups takes timestamped safety copies of local files before the
// executor overwrites or deletes them, bounded per path.
type Backups struct {
	localDir string
	cfg      domain.BackupSettings
	now      func() time.Time
}

func NewBackups(localDir string, cfg domain.BackupSettings) *Backups {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(localDir, ".backups")
	}
	if cfg.MaxPerFile <= 0 {
		cfg.MaxPerFile = 10
	}
	return &Backups{localDir: localDir, cfg: cfg, now: time.Now}
}

// Snapshot copies the current local content of rel into the backup
// directory and returns the backup path. Returns "" when backups are
// disabled or the file does not exist.
func (b *Backups) Snapshot(rel string) (string, error) {
	if !b.cfg.Enabled {
		return "", nil
	}

	src, err := os.Open(filepath.Join(b.localDir, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("backup %s: %w", rel, err)
	}
	defer src.Close()

	dstDir := filepath.Join(b.cfg.Dir, filepath.FromSlash(filepath.Dir(rel)))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("backup %s: %w", rel, err)
	}

	base := filepath.Base(rel)
	dstPath := filepath.Join(dstDir, fmt.Sprintf("%s.%s.bak", base, b.now().Format(backupStamp)))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("backup %s: %w", rel, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("backup %s: %w", rel, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("backup %s: %w", rel, err)
	}

	b.prune(dstDir, base)
	logger.Debug("backed up %s to %s", rel, dstPath)
	return dstPath, nil
}

// prune keeps the newest MaxPerFile copies of base in dir.
func (b *Backups) prune(dir, base string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	prefix := base + "."
	var copies []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".bak") {
			copies = append(copies, name)
		}
	}
	if len(copies) <= b.cfg.MaxPerFile {
		return
	}

	sort.Strings(copies)
	for _, name := range copies[:len(copies)-b.cfg.MaxPerFile] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			logger.Warn("pruning backup %s: %v", name, err)
		}
	}
}
