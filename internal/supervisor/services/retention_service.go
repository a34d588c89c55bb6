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

const defaultRetentionInterval = time.Hour

// Purger is satisfied by *telemetry.Service.
type Purger interface {
	PurgeBefore(ctx context.Context, t time.Time) (int64, error)
}

// RetentionService deletes durable rows older than the retention window on
// every tick, starting with one pass at startup. Failures are logged and
// retried on the next tick.
type RetentionService struct {
	purger    Purger
	retention time.Duration
	interval  time.Duration
	name      string
	now       func() time.Time
}

// NewRetentionService keeps retention worth of rows and purges every interval
// (1h when non-positive).
func NewRetentionService(name string, purger Purger, retention, interval time.Duration) *RetentionService {
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	return &RetentionService{
		purger:    purger,
		retention: retention,
		interval:  interval,
		name:      name,
		now:       time.Now,
	}
}

func (s *RetentionService) Serve(ctx context.Context) error {
	s.purge(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.purge(ctx)
		}
	}
}

func (s *RetentionService) purge(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn().Err(err).Str("service", s.name).Time("cutoff", cutoff).Msg("Retention pass failed")
		}
		return
	}
	logging.Debug().Str("service", s.name).Int64("deleted", n).Time("cutoff", cutoff).Msg("Retention pass complete")
}

func (s *RetentionService) String() string {
	return s.name
}
