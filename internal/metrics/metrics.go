// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeaudit_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Audit Metrics
	AuditRecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_audit_records_written_total",
			Help: "Audit records persisted to the primary store",
		},
		[]string{"action"},
	)

	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeaudit_audit_write_failures_total",
			Help: "Audit records that could not be written to the primary store after retries",
		},
	)

	AuditEscalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_audit_escalations_total",
			Help: "Critical audit records routed to the escalation path",
		},
		[]string{"result"}, // "success", "failure"
	)

	AuditIntegrityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_audit_integrity_checks_total",
			Help: "Checksum verifications by outcome",
		},
		[]string{"result"}, // "valid", "invalid"
	)

	AuditRecordsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeaudit_audit_records_archived_total",
			Help: "Audit records moved to cold storage",
		},
	)

	ReportsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_reports_generated_total",
			Help: "Compliance reports generated",
		},
		[]string{"report_type", "format"},
	)

	// Telemetry Metrics
	TelemetryTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_telemetry_tracked_total",
			Help: "Telemetry events and metrics accepted for ingestion",
		},
		[]string{"category"},
	)

	TelemetryFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_telemetry_flushes_total",
			Help: "Buffer flushes to the fast store",
		},
		[]string{"category", "result"},
	)

	TelemetryFlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeaudit_telemetry_flush_size",
			Help:    "Entries per buffer flush",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)

	TelemetryJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_telemetry_jobs_total",
			Help: "Queue job outcomes",
		},
		[]string{"result"}, // "persisted", "retry", "dead"
	)

	TelemetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeaudit_telemetry_queue_pending",
			Help: "Pending telemetry jobs",
		},
	)

	TelemetryDeadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeaudit_telemetry_queue_dead",
			Help: "Telemetry jobs parked after exhausting retries",
		},
	)

	// Alerting Metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_alerts_published_total",
			Help: "Alerts published on the messaging channel",
		},
		[]string{"topic", "result"},
	)

	AlertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_alerts_delivered_total",
			Help: "Alert webhook deliveries",
		},
		[]string{"result"}, // "success", "failure", "throttled"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradeaudit_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuditWrite counts a persisted audit record.
func RecordAuditWrite(action string) {
	AuditRecordsWritten.WithLabelValues(action).Inc()
}

// RecordEscalation counts an escalation attempt.
func RecordEscalation(err error) {
	AuditEscalations.WithLabelValues(resultLabel(err)).Inc()
}

// RecordIntegrityCheck counts a checksum verification.
func RecordIntegrityCheck(valid bool) {
	if valid {
		AuditIntegrityChecks.WithLabelValues("valid").Inc()
		return
	}
	AuditIntegrityChecks.WithLabelValues("invalid").Inc()
}

// RecordFlush records one buffer flush.
func RecordFlush(category string, size int, err error) {
	TelemetryFlushes.WithLabelValues(category, resultLabel(err)).Inc()
	TelemetryFlushSize.Observe(float64(size))
}

// RecordAlertPublish records an alert publish attempt.
func RecordAlertPublish(topic string, err error) {
	AlertsPublished.WithLabelValues(topic, resultLabel(err)).Inc()
}

// RecordCircuitBreakerTransition records a gobreaker state change.
// States follow gobreaker's ordering: 0 closed, 1 half-open, 2 open.
func RecordCircuitBreakerTransition(name, from, to string, toState int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(toState))
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
