// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package telemetry

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches map[Category][][]Entry
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{batches: make(map[Category][][]Entry)}
}

func (r *flushRecorder) flush(c Category, batch []Entry) {
	r.mu.Lock()
	r.batches[c] = append(r.batches[c], batch)
	r.mu.Unlock()
}

func (r *flushRecorder) flushed(c Category) (flushes, entries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches[c] {
		entries += len(b)
	}
	return len(r.batches[c]), entries
}

func entry(i int) Entry {
	return Entry{CapturedAt: time.Unix(int64(i), 0), Data: []byte(`{"n":` + strconv.Itoa(i) + `}`)}
}

func TestBuffer_ThresholdFlushLosesNothing(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBuffer(100, rec.flush)

	for i := 0; i < 150; i++ {
		b.Append(CategoryEvents, entry(i))
	}

	flushes, flushed := rec.flushed(CategoryEvents)
	if flushes < 1 {
		t.Fatal("expected at least one flush before the 150th append returned")
	}
	if got := flushed + b.Len(CategoryEvents); got != 150 {
		t.Errorf("flushed %d + buffered %d = %d, want 150", flushed, b.Len(CategoryEvents), got)
	}
	if flushed != 101 {
		t.Errorf("first flush should carry 101 entries, got %d", flushed)
	}
}

func TestBuffer_ExactlyThresholdDoesNotFlush(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBuffer(3, rec.flush)

	for i := 0; i < 3; i++ {
		b.Append(CategoryMetrics, entry(i))
	}
	if n, _ := rec.flushed(CategoryMetrics); n != 0 {
		t.Errorf("flushed %d times at exactly the threshold, want 0", n)
	}
	b.Append(CategoryMetrics, entry(3))
	if n, _ := rec.flushed(CategoryMetrics); n != 1 {
		t.Errorf("flushed %d times past the threshold, want 1", n)
	}
}

func TestBuffer_CategoriesAreIndependent(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBuffer(2, rec.flush)

	for i := 0; i < 3; i++ {
		b.Append(CategoryEvents, entry(i))
	}
	b.Append(CategoryMetrics, entry(0))

	if n, _ := rec.flushed(CategoryMetrics); n != 0 {
		t.Error("metrics flushed because events crossed the threshold")
	}
	if b.Len(CategoryMetrics) != 1 {
		t.Errorf("metrics buffered = %d, want 1", b.Len(CategoryMetrics))
	}
}

func TestBuffer_Drain(t *testing.T) {
	t.Parallel()
	b := NewBuffer(10, nil)
	b.Append(CategoryEvents, entry(1))
	b.Append(CategoryEvents, entry(2))

	drained := b.Drain()
	if len(drained[CategoryEvents]) != 2 {
		t.Errorf("drained %d events, want 2", len(drained[CategoryEvents]))
	}
	if _, ok := drained[CategoryMetrics]; ok {
		t.Error("empty category should not appear in the drain")
	}
	if b.Len(CategoryEvents) != 0 {
		t.Error("buffer not empty after drain")
	}
}

func TestBuffer_ConcurrentAppendsAreNotLost(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	b := NewBuffer(50, rec.flush)

	const writers, perWriter = 8, 250
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(CategoryEvents, entry(w*perWriter+i))
			}
		}(w)
	}
	wg.Wait()

	_, flushed := rec.flushed(CategoryEvents)
	if got := flushed + len(b.Drain()[CategoryEvents]); got != writers*perWriter {
		t.Errorf("accounted for %d entries, want %d", got, writers*perWriter)
	}
}

func TestNewBuffer_PanicsOnBadThreshold(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero threshold")
		}
	}()
	NewBuffer(0, nil)
}
