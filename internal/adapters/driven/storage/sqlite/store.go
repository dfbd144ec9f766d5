// Package sqlite persists sync entries in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/remarklab/mdsync/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
)

var _ driven.EntryStore = (*Store)(nil)

// Store is the SQLite-backed entry store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database under dataDir. An empty
// dataDir defaults to ~/.mdsync.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".mdsync")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "state.db")

	// WAL keeps the status command readable while a sync is writing.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get retrieves the entry for a path.
func (s *Store) Get(ctx context.Context, path string) (*domain.SyncEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, content_hash, local_mtime, remote_mtime,
		       last_synced_hash, last_synced_at, status, last_error, updated_at
		FROM entries WHERE path = ?
	`, path)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading entry %s: %w", path, err)
	}
	return entry, nil
}

// Save stores or updates an entry.
func (s *Store) Save(ctx context.Context, entry *domain.SyncEntry) error {
	if entry == nil || entry.Path == "" {
		return fmt.Errorf("%w: entry path is required", domain.ErrInvalidInput)
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (path, content_hash, local_mtime, remote_mtime,
		                     last_synced_hash, last_synced_at, status, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			local_mtime = excluded.local_mtime,
			remote_mtime = excluded.remote_mtime,
			last_synced_hash = excluded.last_synced_hash,
			last_synced_at = excluded.last_synced_at,
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, entry.Path, entry.ContentHash, nullTime(entry.LocalMTime), nullTime(entry.RemoteMTime),
		entry.LastSyncedHash, nullTime(entry.LastSyncedAt), string(entry.Status),
		entry.LastError, entry.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving entry %s: %w", entry.Path, err)
	}
	return nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, path string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", path, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", path, err)
	}
	if affected == 0 {
		return fmt.Errorf("entry %s: %w", path, domain.ErrNotFound)
	}
	return nil
}

// List returns all entries ordered by path.
func (s *Store) List(ctx context.Context) ([]domain.SyncEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, content_hash, local_mtime, remote_mtime,
		       last_synced_hash, last_synced_at, status, last_error, updated_at
		FROM entries ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.SyncEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("listing entries: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*domain.SyncEntry, error) {
	var entry domain.SyncEntry
	var status string
	var localMTime, remoteMTime, lastSyncedAt sql.NullTime

	err := row.Scan(&entry.Path, &entry.ContentHash, &localMTime, &remoteMTime,
		&entry.LastSyncedHash, &lastSyncedAt, &status, &entry.LastError, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry.Status = domain.EntryStatus(status)
	entry.LocalMTime = localMTime.Time
	entry.RemoteMTime = remoteMTime.Time
	entry.LastSyncedAt = lastSyncedAt.Time
	return &entry, nil
}

// nullTime maps the zero time to NULL so "never" round-trips.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// migrate runs all pending migrations in version order.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}
