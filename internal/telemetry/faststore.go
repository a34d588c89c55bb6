// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultRealtimeWindow is how long entries stay in the fast store.
const DefaultRealtimeWindow = 24 * time.Hour

// FastStore is the time-ordered, short-retention store behind the real-time
// view. Entries are scored by their capture time.
type FastStore interface {
	// Add appends a batch to category.
	Add(ctx context.Context, category Category, batch []Entry) error
	// TrimBefore drops entries captured strictly before cutoff.
	TrimBefore(ctx context.Context, category Category, cutoff time.Time) error
	// Range returns entries captured at or after since, oldest first.
	Range(ctx context.Context, category Category, since time.Time) ([]Entry, error)
}

// MemoryFastStore is an in-process FastStore used when no Redis URL is
// configured and in tests.
type MemoryFastStore struct {
	mu      sync.RWMutex
	entries map[Category][]Entry
	err     error
}

func NewMemoryFastStore() *MemoryFastStore {
	return &MemoryFastStore{entries: make(map[Category][]Entry)}
}

// SetError makes every call fail with err until cleared with nil.
func (m *MemoryFastStore) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryFastStore) Add(_ context.Context, category Category, batch []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	list := append(m.entries[category], batch...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CapturedAt.Before(list[j].CapturedAt)
	})
	m.entries[category] = list
	return nil
}

func (m *MemoryFastStore) TrimBefore(_ context.Context, category Category, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	list := m.entries[category]
	i := sort.Search(len(list), func(i int) bool { return !list[i].CapturedAt.Before(cutoff) })
	m.entries[category] = append([]Entry(nil), list[i:]...)
	return nil
}

func (m *MemoryFastStore) Range(_ context.Context, category Category, since time.Time) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	list := m.entries[category]
	i := sort.Search(len(list), func(i int) bool { return !list[i].CapturedAt.Before(since) })
	return append([]Entry(nil), list[i:]...), nil
}

// Len returns the number of entries held for category.
func (m *MemoryFastStore) Len(category Category) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[category])
}
