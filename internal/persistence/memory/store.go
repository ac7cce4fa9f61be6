// Package memory provides in-process queue and token stores for tests and ephemeral agents.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/kinexsync/internal/domain"
)

type entry struct {
	item domain.QueueItem
	seq  uint64
}

// Store keeps queue items in memory. Items do not survive a restart.
type Store struct {
	mu    sync.RWMutex
	items map[string]entry
	seq   uint64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{items: make(map[string]entry)}
}

// Save implements domain.QueueStore.
func (s *Store) Save(ctx context.Context, item domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[item.ID]; ok {
		s.items[item.ID] = entry{item: clone(item), seq: existing.seq}
		return nil
	}
	s.seq++
	s.items[item.ID] = entry{item: clone(item), seq: s.seq}
	return nil
}

// Delete implements domain.QueueStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// FetchPending implements domain.QueueStore.
func (s *Store) FetchPending(ctx context.Context, now time.Time) ([]domain.QueueItem, error) {
	return s.collect(func(item domain.QueueItem) bool { return item.IsReady(now) }), nil
}

// FetchAll implements domain.QueueStore.
func (s *Store) FetchAll(ctx context.Context) ([]domain.QueueItem, error) {
	return s.collect(func(domain.QueueItem) bool { return true }), nil
}

// PendingCount implements domain.QueueStore.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.count(domain.QueueItem.IsPending), nil
}

// FailedCount implements domain.QueueStore.
func (s *Store) FailedCount(ctx context.Context) (int, error) {
	return s.count(domain.QueueItem.IsFailed), nil
}

// ClearFailed implements domain.QueueStore.
func (s *Store) ClearFailed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.items {
		if e.item.IsFailed() {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

// ClearAll implements domain.QueueStore.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.items)
	s.items = make(map[string]entry)
	return removed, nil
}

func (s *Store) count(match func(domain.QueueItem) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.items {
		if match(e.item) {
			n++
		}
	}
	return n
}

func (s *Store) collect(match func(domain.QueueItem) bool) []domain.QueueItem {
	s.mu.RLock()
	entries := make([]entry, 0, len(s.items))
	for _, e := range s.items {
		if match(e.item) {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.Before(b.item.CreatedAt)
		}
		return a.seq < b.seq
	})

	out := make([]domain.QueueItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, clone(e.item))
	}
	return out
}

// clone detaches payload and timestamp pointers so callers cannot mutate stored state.
func clone(item domain.QueueItem) domain.QueueItem {
	if item.Payload != nil {
		item.Payload = append([]byte(nil), item.Payload...)
	}
	if item.NextAttemptAt != nil {
		next := *item.NextAttemptAt
		item.NextAttemptAt = &next
	}
	return item
}
