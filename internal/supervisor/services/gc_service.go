// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package services

import (
	"context"
	"time"

	"github.com/tomtom215/tradeaudit/internal/logging"
)

const defaultGCInterval = 10 * time.Minute

// GarbageCollector is satisfied by *audit.CriticalStore.
type GarbageCollector interface {
	RunGC() error
}

// GCService runs value-log garbage collection on a Badger-backed store at a
// fixed interval. Failures are logged and retried on the next tick; they
// never restart the service.
type GCService struct {
	collector GarbageCollector
	interval  time.Duration
	name      string
	now       func() time.Time
}

// NewGCService schedules collector every interval (10m when non-positive).
func NewGCService(name string, collector GarbageCollector, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	return &GCService{
		collector: collector,
		interval:  interval,
		name:      name,
		now:       time.Now,
	}
}

func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := s.now()
			if err := s.collector.RunGC(); err != nil {
				logging.Warn().Err(err).Str("service", s.name).Msg("Value log GC failed")
				continue
			}
			logging.Debug().Str("service", s.name).Dur("took", s.now().Sub(start)).Msg("Value log GC pass complete")
		}
	}
}

func (s *GCService) String() string {
	return s.name
}
