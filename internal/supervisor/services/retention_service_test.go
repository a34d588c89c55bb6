// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var _ suture.Service = (*RetentionService)(nil)

type recordingPurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPurger) PurgeBefore(_ context.Context, t time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, t)
	return 1, p.err
}

func (p *recordingPurger) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

func TestRetentionService_PurgesOnStartAndInterval(t *testing.T) {
	fixed := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"failures keep ticking", errors.New("database is locked")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			purger := &recordingPurger{err: tt.err}
			svc := NewRetentionService("telemetry-retention", purger, 72*time.Hour, 5*time.Millisecond)
			svc.now = func() time.Time { return fixed }

			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- svc.Serve(ctx) }()

			deadline := time.Now().Add(2 * time.Second)
			for len(purger.calls()) < 3 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			cancel()

			if err := <-errCh; !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
			calls := purger.calls()
			if len(calls) < 3 {
				t.Fatalf("expected at least 3 retention passes, got %d", len(calls))
			}
			want := fixed.Add(-72 * time.Hour)
			for i, c := range calls {
				if !c.Equal(want) {
					t.Errorf("pass %d cutoff = %v, want %v", i, c, want)
				}
			}
		})
	}
}

func TestRetentionService_FirstPassBeforeFirstTick(t *testing.T) {
	purger := &recordingPurger{}
	svc := NewRetentionService("telemetry-retention", purger, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(purger.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-errCh

	if n := len(purger.calls()); n != 1 {
		t.Errorf("expected exactly one startup pass, got %d", n)
	}
}

func TestNewRetentionService_DefaultInterval(t *testing.T) {
	svc := NewRetentionService("retention", &recordingPurger{}, time.Hour, 0)
	if svc.interval != time.Hour {
		t.Errorf("expected default interval 1h, got %v", svc.interval)
	}
	if svc.String() != "retention" {
		t.Errorf("expected name retention, got %q", svc.String())
	}
}
