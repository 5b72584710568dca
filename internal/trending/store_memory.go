package trending

import (
	"context"
	"sort"
	"sync"

	"moviestream/searchservice/internal/domain"
)

// MemoryStore is an in-process Store used when no external counter store is
// configured and in tests. Updates are compare-and-set on the entry count, so
// the aggregator's optimistic retry path is exercised for real.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.TrendingEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]domain.TrendingEntry)}
}

func (m *MemoryStore) Find(_ context.Context, term string) (domain.TrendingEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[term]
	return entry, ok, nil
}

func (m *MemoryStore) Create(_ context.Context, entry domain.TrendingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.SearchTerm]; ok {
		return ErrExists
	}
	m.entries[entry.SearchTerm] = entry
	return nil
}

func (m *MemoryStore) Update(_ context.Context, term string, count, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[term]
	if !ok || entry.Count != expected {
		return ErrConflict
	}
	entry.Count = count
	m.entries[term] = entry
	return nil
}

func (m *MemoryStore) Top(_ context.Context, limit int) ([]domain.TrendingEntry, error) {
	m.mu.RLock()
	items := make([]domain.TrendingEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		items = append(items, entry)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].SearchTerm < items[j].SearchTerm
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
