// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package telemetry

import "sync"

// FlushFunc receives a batch that was swapped out of the buffer. It runs
// without the buffer lock held and owns the slice.
type FlushFunc func(category Category, batch []Entry)

// Buffer accumulates entries per category. When a category grows past the
// threshold its batch is swapped out and handed to the flush function, so an
// append never waits on another append's I/O and no entry is lost between
// swap and refill.
type Buffer struct {
	mu        sync.Mutex
	entries   map[Category][]Entry
	threshold int
	onFlush   FlushFunc
}

// NewBuffer panics on a non-positive threshold.
func NewBuffer(threshold int, onFlush FlushFunc) *Buffer {
	if threshold <= 0 {
		panic("telemetry: buffer threshold must be positive")
	}
	return &Buffer{
		entries:   make(map[Category][]Entry),
		threshold: threshold,
		onFlush:   onFlush,
	}
}

// Append adds e to category. If the category now holds more than the
// threshold, the batch is flushed before Append returns.
func (b *Buffer) Append(category Category, e Entry) {
	b.mu.Lock()
	b.entries[category] = append(b.entries[category], e)
	var batch []Entry
	if len(b.entries[category]) > b.threshold {
		batch = b.entries[category]
		b.entries[category] = nil
	}
	b.mu.Unlock()

	if batch != nil && b.onFlush != nil {
		b.onFlush(category, batch)
	}
}

// Drain swaps out every non-empty category.
func (b *Buffer) Drain() map[Category][]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[Category][]Entry, len(b.entries))
	for c, entries := range b.entries {
		if len(entries) > 0 {
			out[c] = entries
		}
	}
	b.entries = make(map[Category][]Entry)
	return out
}

// Len returns how many entries are waiting in category.
func (b *Buffer) Len(category Category) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries[category])
}
