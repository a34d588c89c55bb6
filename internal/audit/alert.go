// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/metrics"
)

// Alerter is notified when a record could not be persisted to the primary
// store, and when a stored record fails checksum verification.
type Alerter interface {
	AuditWriteFailed(ctx context.Context, rec *Record, cause error)
	IntegrityCheckFailed(ctx context.Context, rec *Record)
}

// LogAlerter logs at error level and increments the write failure counter.
type LogAlerter struct{}

func (LogAlerter) AuditWriteFailed(ctx context.Context, rec *Record, cause error) {
	metrics.AuditWriteFailures.Inc()
	logging.CtxErr(ctx, cause).
		Str("record_id", rec.ID).
		Str("action", string(rec.Action)).
		Str("entity_type", string(rec.EntityType)).
		Str("checksum", rec.Checksum).
		Msg("AUDIT WRITE FAILED: record not persisted to primary store")
}

func (LogAlerter) IntegrityCheckFailed(ctx context.Context, rec *Record) {
	logging.Ctx(ctx).Warn().
		Str("record_id", rec.ID).
		Str("action", string(rec.Action)).
		Msg("Audit record failed integrity verification")
}

// PublishingAlerter logs like LogAlerter and also publishes the unpersisted
// record on TopicWriteFailed so the payload is not lost.
type PublishingAlerter struct {
	LogAlerter
	publisher message.Publisher
}

func NewPublishingAlerter(publisher message.Publisher) *PublishingAlerter {
	return &PublishingAlerter{publisher: publisher}
}

func (a *PublishingAlerter) AuditWriteFailed(ctx context.Context, rec *Record, cause error) {
	a.LogAlerter.AuditWriteFailed(ctx, rec, cause)

	msg, err := newRecordMessage(ctx, rec)
	if err != nil {
		logging.CtxErr(ctx, err).Msg("Failed to encode write-failure alert")
		return
	}
	msg.Metadata.Set("cause", cause.Error())
	err = a.publisher.Publish(TopicWriteFailed, msg)
	metrics.RecordAlertPublish(TopicWriteFailed, err)
	if err != nil {
		logging.CtxErr(ctx, err).Str("record_id", rec.ID).Msg("Failed to publish write-failure alert")
	}
}

// IntegrityCheckFailed publishes the stored record on TopicIntegrityFailure.
func (a *PublishingAlerter) IntegrityCheckFailed(ctx context.Context, rec *Record) {
	a.LogAlerter.IntegrityCheckFailed(ctx, rec)

	msg, err := newRecordMessage(ctx, rec)
	if err != nil {
		logging.CtxErr(ctx, err).Msg("Failed to encode integrity alert")
		return
	}
	msg.Metadata.Set("action", string(rec.Action))
	err = a.publisher.Publish(TopicIntegrityFailure, msg)
	metrics.RecordAlertPublish(TopicIntegrityFailure, err)
	if err != nil {
		logging.CtxErr(ctx, err).Str("record_id", rec.ID).Msg("Failed to publish integrity alert")
	}
}

// MemoryAlerter collects alerts for assertions.
type MemoryAlerter struct {
	mu       sync.Mutex
	alerts   []FailedWrite
	tampered []string
}

// FailedWrite is one alert captured by MemoryAlerter.
type FailedWrite struct {
	Record *Record
	Cause  error
}

func (m *MemoryAlerter) AuditWriteFailed(_ context.Context, rec *Record, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, FailedWrite{Record: cloneRecord(rec), Cause: cause})
}

func (m *MemoryAlerter) IntegrityCheckFailed(_ context.Context, rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tampered = append(m.tampered, rec.ID)
}

// Tampered returns the ids reported through IntegrityCheckFailed.
func (m *MemoryAlerter) Tampered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tampered...)
}

func (m *MemoryAlerter) Alerts() []FailedWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FailedWrite, len(m.alerts))
	copy(out, m.alerts)
	return out
}
