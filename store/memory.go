package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a volatile Store implementation holding records in a
// process-local map. It is safe for concurrent access and best suited for
// tests, replays and single-process setups where the orchestrator's sandbox
// shares memory with the viewer.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record // workflow id -> records in ascending sort-key order
	now     func() time.Time
}

// NewInMemoryStore constructs an empty in-memory tool-event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]Record),
		now:     time.Now,
	}
}

var _ Store = (*InMemoryStore)(nil)

// Append writes one record, replacing any record with the same sort key so
// retried writes stay idempotent.
func (s *InMemoryStore) Append(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.records[rec.WorkflowID]
	i := sort.Search(len(list), func(i int) bool { return list[i].SortKey >= rec.SortKey })
	if i < len(list) && list[i].SortKey == rec.SortKey {
		list[i] = rec
	} else {
		list = append(list, Record{})
		copy(list[i+1:], list[i:])
		list[i] = rec
	}
	s.records[rec.WorkflowID] = list
	return nil
}

// QueryAfter returns up to limit unexpired records with sort keys strictly
// greater than after, in ascending order.
func (s *InMemoryStore) QueryAfter(_ context.Context, workflowID string, after SortKey, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	list := s.records[workflowID]
	start := sort.Search(len(list), func(i int) bool { return list[i].SortKey > after })

	out := make([]Record, 0, limit)
	for _, rec := range list[start:] {
		if rec.Expired(now) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored records for a workflow, expired included.
func (s *InMemoryStore) Len(workflowID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[workflowID])
}

// SetNow replaces the store's clock. Test seam for TTL expiry.
func (s *InMemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
