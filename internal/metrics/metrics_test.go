// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/audit/logs", "200"))
	RecordAPIRequest("GET", "/api/v1/audit/logs", "200", 12*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/audit/logs", "200"))

	if after-before != 1 {
		t.Errorf("APIRequestsTotal delta = %v, want 1", after-before)
	}
}

func TestRecordEscalation(t *testing.T) {
	ok := testutil.ToFloat64(AuditEscalations.WithLabelValues("success"))
	failed := testutil.ToFloat64(AuditEscalations.WithLabelValues("failure"))

	RecordEscalation(nil)
	RecordEscalation(errors.New("badger closed"))

	if got := testutil.ToFloat64(AuditEscalations.WithLabelValues("success")) - ok; got != 1 {
		t.Errorf("success delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(AuditEscalations.WithLabelValues("failure")) - failed; got != 1 {
		t.Errorf("failure delta = %v, want 1", got)
	}
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	RecordCircuitBreakerTransition("redis", "closed", "open", 2)

	var m dto.Metric
	if err := CircuitBreakerState.WithLabelValues("redis").Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if m.GetGauge().GetValue() != 2 {
		t.Errorf("state gauge = %v, want 2", m.GetGauge().GetValue())
	}
}

func TestRecordFlushObservesSize(t *testing.T) {
	var before dto.Metric
	if err := TelemetryFlushSize.Write(&before); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	RecordFlush("events", 101, nil)

	var after dto.Metric
	if err := TelemetryFlushSize.Write(&after); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if after.GetHistogram().GetSampleCount()-before.GetHistogram().GetSampleCount() != 1 {
		t.Error("expected one histogram observation")
	}
}
