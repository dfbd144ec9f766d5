// Package memory provides an in-memory EntryStore, used by tests and by
// one-shot runs that do not need persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/remarklab/mdsync/internal/core/domain"
)

type EntryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.SyncEntry
}

func NewEntryStore() *EntryStore {
	return &EntryStore{entries: map[string]domain.SyncEntry{}}
}

func (s *EntryStore) Get(_ context.Context, path string) (*domain.SyncEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := entry
	return &out, nil
}

func (s *EntryStore) Save(_ context.Context, entry *domain.SyncEntry) error {
	if entry == nil || entry.Path == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Path] = *entry
	return nil
}

func (s *EntryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[path]; !ok {
		return domain.ErrNotFound
	}
	delete(s.entries, path)
	return nil
}

func (s *EntryStore) List(_ context.Context) ([]domain.SyncEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SyncEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
