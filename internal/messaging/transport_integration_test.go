// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

//go:build integration

package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/breaker"
	"github.com/tomtom215/tradeaudit/internal/config"
)

func TestNATSTransport_EmbeddedRoundTrip(t *testing.T) {
	ctx := context.Background()
	tr, err := NewTransport(ctx, config.MessagingConfig{
		Transport:      TransportNATS,
		NATSURL:        "nats://127.0.0.1:0",
		EmbeddedServer: true,
		StoreDir:       t.TempDir(),
	}, breaker.DefaultSettings(), nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tr.Close(shutdownCtx)
	})

	if tr.Kind() != TransportNATS || !tr.server.IsRunning() {
		t.Fatalf("transport = %s, server running = %v", tr.Kind(), tr.server.IsRunning())
	}

	rec := newCapturingNotifier()
	startRouter(t, tr, testRouterConfig(), rec)

	record := &audit.Record{ID: "nats-1", Action: audit.ActionRoleChanged, EntityType: audit.EntityUser}
	if err := audit.NewAlertingEscalator(tr.Publisher).Escalate(ctx, record); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	alert := rec.next(t)
	if alert.Topic != audit.TopicCritical || alert.RecordID != "nats-1" {
		t.Errorf("alert = %+v", alert)
	}
}
