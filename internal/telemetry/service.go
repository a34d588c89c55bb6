// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/tradeaudit/internal/config"
	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/metrics"
)

const (
	DefaultFlushInterval  = 10 * time.Second
	DefaultFlushThreshold = 100

	// flushTimeout bounds a flush that runs detached from any request.
	flushTimeout = 10 * time.Second
)

var (
	ErrUnknownCategory = errors.New("unknown telemetry category")
	ErrInvalidWindow   = errors.New("end must be after start")
	ErrWindowTooLarge  = errors.New("export window too large")
)

// BatchListener receives every batch written to the fast store.
type BatchListener func(category Category, batch []Entry)

// Service is the telemetry ingestion and read API. Tracking never waits on
// durable storage: each item is handed to the job queue and appended to the
// in-memory buffer that feeds the real-time view.
type Service struct {
	cfg     config.TelemetryConfig
	fast    FastStore
	durable DurableStore
	queue   *Queue
	buffer  *Buffer
	now     func() time.Time

	// In-flight threshold flushes. Once flushClosed is set no new goroutine
	// joins flushes and late threshold batches are written inline.
	flushes     sync.WaitGroup
	flushMu     sync.Mutex
	flushClosed bool

	listenersMu sync.RWMutex
	listeners   []BatchListener

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService panics if any collaborator is nil.
func NewService(cfg config.TelemetryConfig, fast FastStore, durable DurableStore, queue *Queue) *Service {
	if fast == nil || durable == nil || queue == nil {
		panic("telemetry: fast store, durable store and queue are required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.RealtimeWindow <= 0 {
		cfg.RealtimeWindow = DefaultRealtimeWindow
	}

	s := &Service{
		cfg:     cfg,
		fast:    fast,
		durable: durable,
		queue:   queue,
		now:     time.Now,
	}
	s.buffer = NewBuffer(cfg.FlushThreshold, s.flushAsync)
	return s
}

// OnFlush registers l for every future flushed batch.
func (s *Service) OnFlush(l BatchListener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Start launches the queue workers and the periodic flusher.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.queue.Start(ctx, s.persist); err != nil {
		return fmt.Errorf("start telemetry queue: %w", err)
	}

	s.flushMu.Lock()
	s.flushClosed = false
	s.flushMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.flusher(runCtx, s.done)

	logging.Info().
		Dur("flush_interval", s.cfg.FlushInterval).
		Int("flush_threshold", s.cfg.FlushThreshold).
		Dur("realtime_window", s.cfg.RealtimeWindow).
		Msg("Telemetry service started")
	return nil
}

// Shutdown stops the flusher, writes whatever is still buffered to the fast
// store and waits for the queue workers to finish their current jobs.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.flushMu.Lock()
	s.flushClosed = true
	s.flushMu.Unlock()

	waited := make(chan struct{})
	go func() {
		s.flushes.Wait()
		s.flushAll(ctx)
		s.queue.Stop()
		close(waited)
	}()

	select {
	case <-waited:
		logging.Info().Msg("Telemetry service stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telemetry shutdown: %w", ctx.Err())
	}
}

// Serve runs the service until ctx is canceled. It fits a suture supervisor.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Service) String() string { return "telemetry-service" }

// TrackEvent accepts an event for ingestion and returns it with its id and
// creation time filled in. Storage failures are logged, never returned.
func (s *Service) TrackEvent(ctx context.Context, e Event) Event {
	now := s.now().UTC()
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	s.track(ctx, CategoryEvents, now, e.ID, e)
	return e
}

// TrackMetric is TrackEvent for performance measurements.
func (s *Service) TrackMetric(ctx context.Context, m Metric) Metric {
	now := s.now().UTC()
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	s.track(ctx, CategoryMetrics, now, m.ID, m)
	return m
}

func (s *Service) track(ctx context.Context, category Category, now time.Time, id string, item any) {
	data, err := json.Marshal(item)
	if err != nil {
		logging.CtxErr(ctx, err).Str("category", string(category)).Str("id", id).Msg("Failed to encode telemetry item")
		return
	}
	metrics.TelemetryTracked.WithLabelValues(string(category)).Inc()

	if _, err := s.queue.Enqueue(ctx, category, data); err != nil {
		logging.CtxErr(ctx, err).Str("category", string(category)).Str("id", id).Msg("Failed to enqueue telemetry item")
	}
	s.buffer.Append(category, Entry{CapturedAt: now, Data: data})
}

// flushAsync is the buffer's threshold callback. The write runs off the
// appending goroutine until Shutdown closes the gate.
func (s *Service) flushAsync(category Category, batch []Entry) {
	s.flushMu.Lock()
	if s.flushClosed {
		s.flushMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		s.flush(ctx, category, batch)
		return
	}
	s.flushes.Add(1)
	s.flushMu.Unlock()

	go func() {
		defer s.flushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		s.flush(ctx, category, batch)
	}()
}

func (s *Service) flusher(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			s.flushAll(flushCtx)
			cancel()
		}
	}
}

func (s *Service) flushAll(ctx context.Context) {
	drained := s.buffer.Drain()
	for _, c := range Categories {
		if batch := drained[c]; len(batch) > 0 {
			s.flush(ctx, c, batch)
		}
	}
}

// flush writes batch to the fast store and trims everything older than the
// real-time window.
func (s *Service) flush(ctx context.Context, category Category, batch []Entry) {
	err := s.fast.Add(ctx, category, batch)
	if err == nil {
		err = s.fast.TrimBefore(ctx, category, s.now().Add(-s.cfg.RealtimeWindow))
	}
	metrics.RecordFlush(string(category), len(batch), err)
	if err != nil {
		logging.Warn().Err(err).
			Str("category", string(category)).
			Int("size", len(batch)).
			Msg("Telemetry flush to fast store failed")
	}

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(category, batch)
	}
}

// persist is the queue handler: it writes one event or metric to durable
// storage.
func (s *Service) persist(ctx context.Context, job *Job) error {
	switch job.Category {
	case CategoryEvents:
		var e Event
		if err := json.Unmarshal(job.Payload, &e); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		return s.durable.SaveEvent(ctx, &e)
	case CategoryMetrics:
		var m Metric
		if err := json.Unmarshal(job.Payload, &m); err != nil {
			return fmt.Errorf("decode metric: %w", err)
		}
		return s.durable.SaveMetric(ctx, &m)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCategory, job.Category)
	}
}

// GetRealtimeMetrics reads the trailing window from the fast store. The
// view is advisory: a failing store yields empty lists, not an error.
func (s *Service) GetRealtimeMetrics(ctx context.Context, minutes int) Realtime {
	since := s.now().Add(-time.Duration(minutes) * time.Minute)
	out := Realtime{Events: []Event{}, Metrics: []Metric{}}

	events, err := s.fast.Range(ctx, CategoryEvents, since)
	if err != nil {
		logging.Warn().Err(err).Msg("Real-time telemetry read failed")
		return out
	}
	metricEntries, err := s.fast.Range(ctx, CategoryMetrics, since)
	if err != nil {
		logging.Warn().Err(err).Msg("Real-time telemetry read failed")
		return out
	}

	for _, entry := range events {
		var e Event
		if err := json.Unmarshal(entry.Data, &e); err != nil {
			continue
		}
		out.Events = append(out.Events, e)
	}
	for _, entry := range metricEntries {
		var m Metric
		if err := json.Unmarshal(entry.Data, &m); err != nil {
			continue
		}
		out.Metrics = append(out.Metrics, m)
	}
	return out
}

// GetAggregatedMetrics summarizes the trailing hours from durable storage.
func (s *Service) GetAggregatedMetrics(ctx context.Context, hours int) (*Aggregated, error) {
	end := s.now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	agg, err := s.durable.Aggregate(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregate telemetry: %w", err)
	}
	return agg, nil
}

// Export returns durable events or metrics in [start, end), oldest first.
// The result is []Event or []Metric depending on category.
func (s *Service) Export(ctx context.Context, category Category, start, end time.Time) (any, error) {
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}
	if s.cfg.MaxExportWindow > 0 && end.Sub(start) > s.cfg.MaxExportWindow {
		return nil, fmt.Errorf("%w: max %s", ErrWindowTooLarge, s.cfg.MaxExportWindow)
	}
	switch category {
	case CategoryEvents:
		return s.durable.ExportEvents(ctx, start, end)
	case CategoryMetrics:
		return s.durable.ExportMetrics(ctx, start, end)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
}

// DeadLetters lists jobs that exhausted their retries.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]*Job, error) {
	return s.queue.DeadLetters(ctx, limit)
}

// RequeueDeadLetter gives a dead job a fresh retry budget.
func (s *Service) RequeueDeadLetter(ctx context.Context, id string) error {
	return s.queue.RequeueDead(ctx, id)
}

// PurgeBefore deletes durable telemetry older than t.
func (s *Service) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	n, err := s.durable.DeleteBefore(ctx, t)
	if err != nil {
		return n, fmt.Errorf("purge telemetry: %w", err)
	}
	logging.Info().Int64("deleted", n).Time("before", t).Msg("Telemetry purged")
	return n, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
