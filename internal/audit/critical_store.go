// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/logging"
)

const (
	prefixCritical      = "critical:"
	prefixCriticalIndex = "critical-id:"
)

// ErrCriticalStoreClosed is returned after Close.
var ErrCriticalStoreClosed = errors.New("critical store is closed")

// CriticalEntry is a record copy held in the independent critical store.
type CriticalEntry struct {
	Record      *Record   `json:"record"`
	EscalatedAt time.Time `json:"escalatedAt"`
}

// CriticalStore is an append-only BadgerDB store kept apart from the primary
// audit database, so critical actions survive a primary outage.
type CriticalStore struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// OpenCriticalStore opens (or creates) the store in dir with synchronous writes.
func OpenCriticalStore(dir string) (*CriticalStore, error) {
	if dir == "" {
		return nil, errors.New("critical store directory is required")
	}
	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open critical store: %w", err)
	}

	logging.Info().Str("path", dir).Msg("Critical audit store opened")
	return &CriticalStore{db: db}, nil
}

// OpenInMemoryCriticalStore is for tests.
func OpenInMemoryCriticalStore() (*CriticalStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory critical store: %w", err)
	}
	return &CriticalStore{db: db}, nil
}

// Escalate implements Escalator.
func (s *CriticalStore) Escalate(ctx context.Context, rec *Record) error {
	return s.Put(ctx, rec)
}

// Put appends rec under a time-ordered key plus an id index. Existing keys are
// never overwritten.
func (s *CriticalStore) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrCriticalStoreClosed
	}

	now := time.Now().UTC()
	data, err := json.Marshal(CriticalEntry{Record: rec, EscalatedAt: now})
	if err != nil {
		return fmt.Errorf("marshal critical entry: %w", err)
	}

	key := criticalKey(now, rec.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(key, data)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(prefixCriticalIndex+rec.ID), key))
	})
	if err != nil {
		return fmt.Errorf("write critical entry: %w", err)
	}
	return nil
}

// Get returns the most recent escalation of the record with id.
func (s *CriticalStore) Get(ctx context.Context, id string) (*CriticalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrCriticalStoreClosed
	}

	var entry CriticalEntry
	err := s.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(prefixCriticalIndex + id))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read critical entry: %w", err)
	}
	return &entry, nil
}

// List returns entries escalated at or after since, oldest first. limit <= 0
// returns all of them.
func (s *CriticalStore) List(ctx context.Context, since time.Time, limit int) ([]CriticalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrCriticalStoreClosed
	}

	entries := make([]CriticalEntry, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixCritical)
		start := prefix
		if !since.IsZero() {
			start = []byte(fmt.Sprintf("%s%020d", prefixCritical, since.UnixNano()))
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry CriticalEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Failed to decode critical entry")
				continue
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate critical entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of escalations held.
func (s *CriticalStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrCriticalStoreClosed
	}

	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixCritical)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count critical entries: %w", err)
	}
	return n, nil
}

// RunGC reclaims value log space. Nothing is deleted from the store, so this
// mostly returns badger.ErrNoRewrite, which is not reported as an error.
func (s *CriticalStore) RunGC() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrCriticalStoreClosed
	}
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return fmt.Errorf("critical store GC: %w", err)
	}
	return nil
}

func criticalKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixCritical, t.UnixNano(), id))
}

// Close is idempotent.
func (s *CriticalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
