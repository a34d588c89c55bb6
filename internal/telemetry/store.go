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

// topPagesLimit bounds Aggregated.TopPages.
const topPagesLimit = 10

// DurableStore is long-term storage for telemetry. Saves are idempotent on
// id so a retried job never duplicates a row. Time windows are half-open:
// start inclusive, end exclusive.
type DurableStore interface {
	SaveEvent(ctx context.Context, e *Event) error
	SaveMetric(ctx context.Context, m *Metric) error
	Aggregate(ctx context.Context, start, end time.Time) (*Aggregated, error)
	ExportEvents(ctx context.Context, start, end time.Time) ([]Event, error)
	ExportMetrics(ctx context.Context, start, end time.Time) ([]Metric, error)
	// DeleteBefore removes rows created before t and returns how many went.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// MemoryStore is an in-process DurableStore for tests and single-node dev.
type MemoryStore struct {
	mu      sync.RWMutex
	events  map[string]Event
	metrics map[string]Metric
	err     error
	delay   time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]Event),
		metrics: make(map[string]Metric),
	}
}

// SetError makes saves fail with err until cleared with nil.
func (s *MemoryStore) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetDelay makes every save sleep for d first.
func (s *MemoryStore) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *MemoryStore) failure(ctx context.Context) error {
	s.mu.RLock()
	delay, err := s.delay, s.err
	s.mu.RUnlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *MemoryStore) SaveEvent(ctx context.Context, e *Event) error {
	if err := s.failure(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.events[e.ID] = *e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SaveMetric(ctx context.Context, m *Metric) error {
	if err := s.failure(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.metrics[m.ID] = *m
	s.mu.Unlock()
	return nil
}

// EventCount returns how many events have been saved.
func (s *MemoryStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// MetricCount returns how many metrics have been saved.
func (s *MemoryStore) MetricCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

func (s *MemoryStore) Aggregate(ctx context.Context, start, end time.Time) (*Aggregated, error) {
	events, _ := s.ExportEvents(ctx, start, end)
	metrics, _ := s.ExportMetrics(ctx, start, end)

	agg := &Aggregated{TimeRange: TimeRange{Start: start, End: end}, TopPages: []PathCount{}}
	pages := make(map[string]int64)
	for _, e := range events {
		agg.TotalEvents++
		switch e.EventType {
		case EventAPICall:
			agg.APICalls++
		case EventError:
			agg.Errors++
		case EventPageView:
			if e.Path != "" {
				pages[e.Path]++
			}
		}
	}

	var sum float64
	var n int
	for _, m := range metrics {
		if m.MetricType != MetricAPIResponse {
			continue
		}
		if n == 0 || m.Value < agg.MinResponseTime {
			agg.MinResponseTime = m.Value
		}
		if n == 0 || m.Value > agg.MaxResponseTime {
			agg.MaxResponseTime = m.Value
		}
		sum += m.Value
		n++
	}
	if n > 0 {
		agg.AvgResponseTime = sum / float64(n)
	}

	for path, count := range pages {
		agg.TopPages = append(agg.TopPages, PathCount{Path: path, Count: count})
	}
	sortPathCounts(agg.TopPages)
	if len(agg.TopPages) > topPagesLimit {
		agg.TopPages = agg.TopPages[:topPagesLimit]
	}
	agg.ErrorRate = errorRate(agg.Errors, agg.APICalls)
	return agg, nil
}

func (s *MemoryStore) ExportEvents(_ context.Context, start, end time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Event{}
	for _, e := range s.events {
		if inWindow(e.CreatedAt, start, end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ExportMetrics(_ context.Context, start, end time.Time) ([]Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Metric{}
	for _, m := range s.metrics {
		if inWindow(m.CreatedAt, start, end) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.events {
		if e.CreatedAt.Before(t) {
			delete(s.events, id)
			n++
		}
	}
	for id, m := range s.metrics {
		if m.CreatedAt.Before(t) {
			delete(s.metrics, id)
			n++
		}
	}
	return n, nil
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// errorRate is errors per API call, or 0 when there were no API calls.
func errorRate(errors, apiCalls int64) float64 {
	if apiCalls == 0 {
		return 0
	}
	return float64(errors) / float64(apiCalls)
}

func sortPathCounts(pc []PathCount) {
	sort.Slice(pc, func(i, j int) bool {
		if pc[i].Count != pc[j].Count {
			return pc[i].Count > pc[j].Count
		}
		return pc[i].Path < pc[j].Path
	})
}
