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

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/metrics"
)

var (
	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("telemetry queue is closed")

	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("telemetry job not found")
)

const (
	prefixPending = "pending:"
	prefixDead    = "dead:"
)

// Job is one durable persistence task: a single tracked event or metric,
// JSON encoded in Payload.
type Job struct {
	ID            string          `json:"id"`
	Category      Category        `json:"category"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	LastError     string          `json:"lastError,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Handler processes a job. A nil error removes the job from the queue.
type Handler func(ctx context.Context, job *Job) error

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool

	Workers       int
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	SweepInterval time.Duration
}

func (c *QueueConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
}

// Queue is a durable job queue on BadgerDB. Jobs survive restarts, are
// retried with capped exponential backoff, and are parked as dead letters
// once they exhaust their attempts.
type Queue struct {
	db  *badger.DB
	cfg QueueConfig

	notify chan string

	// Jobs currently held by a worker, keyed by id.
	inflight sync.Map

	mu      sync.Mutex
	closed  bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// OpenQueue opens (or creates) the queue store.
func OpenQueue(cfg QueueConfig) (*Queue, error) {
	cfg.applyDefaults()

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("telemetry queue directory is required")
		}
		opts = badger.DefaultOptions(cfg.Dir)
		opts.SyncWrites = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open telemetry queue: %w", err)
	}

	q := &Queue{
		db:     db,
		cfg:    cfg,
		notify: make(chan string, 1024),
	}
	q.refreshGauges()

	logging.Info().
		Str("dir", cfg.Dir).
		Bool("in_memory", cfg.InMemory).
		Int("workers", cfg.Workers).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Telemetry queue opened")
	return q, nil
}

// Start launches the workers and the sweeper. Jobs left pending by a
// previous run are picked up on the first sweep.
func (q *Queue) Start(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, handler)
	}
	q.wg.Add(1)
	go q.sweeper(runCtx)
	return nil
}

// Stop halts the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
}

// Close stops the queue and closes the store. Safe to call twice.
func (q *Queue) Close() error {
	q.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Enqueue persists a job and wakes a worker. The job is durable once
// Enqueue returns nil.
func (q *Queue) Enqueue(ctx context.Context, category Category, payload json.RawMessage) (*Job, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	now := time.Now().UTC()
	job := &Job{
		ID:            id.String(),
		Category:      category,
		Payload:       payload,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := q.put(prefixPending, job); err != nil {
		return nil, err
	}
	metrics.TelemetryQueueDepth.Inc()
	q.wake(job.ID)
	return job, nil
}

// wake never blocks; a full channel leaves the job to the sweeper.
func (q *Queue) wake(id string) {
	select {
	case q.notify <- id:
	default:
	}
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.notify:
			q.process(ctx, handler, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, handler Handler, id string) {
	if _, busy := q.inflight.LoadOrStore(id, struct{}{}); busy {
		return
	}
	defer q.inflight.Delete(id)

	job, err := q.get(prefixPending, id)
	if errors.Is(err, ErrJobNotFound) {
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("job_id", id).Msg("Telemetry queue: failed to load job")
		return
	}
	if time.Now().Before(job.NextAttemptAt) {
		return
	}

	herr := handler(ctx, job)
	if herr == nil {
		if err := q.delete(prefixPending, id); err != nil {
			logging.Error().Err(err).Str("job_id", id).Msg("Telemetry queue: failed to remove finished job")
			return
		}
		metrics.TelemetryJobs.WithLabelValues("persisted").Inc()
		metrics.TelemetryQueueDepth.Dec()
		return
	}
	if ctx.Err() != nil {
		// Shutting down; the attempt does not count.
		return
	}

	job.Attempts++
	job.LastError = herr.Error()
	if job.Attempts >= q.cfg.MaxAttempts {
		if err := q.move(job, prefixPending, prefixDead); err != nil {
			logging.Error().Err(err).Str("job_id", id).Msg("Telemetry queue: failed to dead-letter job")
			return
		}
		metrics.TelemetryJobs.WithLabelValues("dead").Inc()
		metrics.TelemetryQueueDepth.Dec()
		metrics.TelemetryDeadLetters.Inc()
		logging.Error().
			Err(herr).
			Str("job_id", id).
			Str("category", string(job.Category)).
			Int("attempts", job.Attempts).
			Msg("Telemetry job moved to dead letters")
		return
	}

	job.NextAttemptAt = time.Now().UTC().Add(q.backoff(job.Attempts))
	if err := q.put(prefixPending, job); err != nil {
		logging.Error().Err(err).Str("job_id", id).Msg("Telemetry queue: failed to reschedule job")
		return
	}
	metrics.TelemetryJobs.WithLabelValues("retry").Inc()
	logging.Warn().
		Err(herr).
		Str("job_id", id).
		Int("attempt", job.Attempts).
		Time("next_attempt_at", job.NextAttemptAt).
		Msg("Telemetry job failed, will retry")
}

// backoff returns base * 2^(attempts-1), capped at the configured maximum.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	if d > q.cfg.MaxBackoff {
		return q.cfg.MaxBackoff
	}
	return d
}

func (q *Queue) sweeper(ctx context.Context) {
	defer q.wg.Done()
	q.sweep(ctx)

	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweep(ctx)
		}
	}
}

// sweep re-notifies every due job that no worker holds.
func (q *Queue) sweep(ctx context.Context) {
	jobs, err := q.scan(prefixPending, 0)
	if err != nil {
		logging.Error().Err(err).Msg("Telemetry queue: sweep failed")
		return
	}
	now := time.Now()
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if now.Before(job.NextAttemptAt) {
			continue
		}
		if _, busy := q.inflight.Load(job.ID); busy {
			continue
		}
		select {
		case q.notify <- job.ID:
		case <-ctx.Done():
			return
		}
	}
	q.refreshGauges()
}

// Depth returns the number of pending jobs.
func (q *Queue) Depth(_ context.Context) (int, error) {
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	return q.count(prefixPending)
}

// DeadLetters lists parked jobs, oldest first. limit <= 0 means no limit.
func (q *Queue) DeadLetters(_ context.Context, limit int) ([]*Job, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	return q.scan(prefixDead, limit)
}

// RequeueDead moves a dead letter back to pending with a fresh attempt
// budget.
func (q *Queue) RequeueDead(_ context.Context, id string) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	job, err := q.get(prefixDead, id)
	if err != nil {
		return err
	}
	job.Attempts = 0
	job.LastError = ""
	job.NextAttemptAt = time.Now().UTC()
	if err := q.move(job, prefixDead, prefixPending); err != nil {
		return err
	}
	metrics.TelemetryDeadLetters.Dec()
	metrics.TelemetryQueueDepth.Inc()
	q.wake(id)
	return nil
}

func (q *Queue) refreshGauges() {
	if n, err := q.count(prefixPending); err == nil {
		metrics.TelemetryQueueDepth.Set(float64(n))
	}
	if n, err := q.count(prefixDead); err == nil {
		metrics.TelemetryDeadLetters.Set(float64(n))
	}
}

func (q *Queue) put(prefix string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefix+job.ID), data)
	})
}

func (q *Queue) get(prefix, id string) (*Job, error) {
	var job Job
	err := q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *Queue) delete(prefix, id string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefix + id))
	})
}

// move rewrites job under the destination prefix and removes the source key
// in one transaction.
func (q *Queue) move(job *Job, from, to string) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(to+job.ID), data); err != nil {
			return err
		}
		return txn.Delete([]byte(from + job.ID))
	})
}

// scan returns jobs under prefix in key order, which is creation order for
// v7 ids.
func (q *Queue) scan(prefix string, limit int) ([]*Job, error) {
	var jobs []*Job
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var job Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return fmt.Errorf("decode job: %w", err)
			}
			jobs = append(jobs, &job)
			if limit > 0 && len(jobs) >= limit {
				break
			}
		}
		return nil
	})
	return jobs, err
}

func (q *Queue) count(prefix string) (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
