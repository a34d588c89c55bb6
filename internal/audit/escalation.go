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

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
)

// Alert topics published by this package.
const (
	TopicCritical         = "audit.critical"
	TopicWriteFailed      = "audit.write_failed"
	TopicIntegrityFailure = "audit.integrity_failed"
)

// Escalator receives copies of critical records. Implementations must not
// depend on the primary Store being available.
type Escalator interface {
	Escalate(ctx context.Context, rec *Record) error
}

// AlertingEscalator publishes critical records on TopicCritical.
type AlertingEscalator struct {
	publisher message.Publisher
}

func NewAlertingEscalator(publisher message.Publisher) *AlertingEscalator {
	return &AlertingEscalator{publisher: publisher}
}

func (e *AlertingEscalator) Escalate(ctx context.Context, rec *Record) error {
	msg, err := newRecordMessage(ctx, rec)
	if err != nil {
		return err
	}
	msg.Metadata.Set("action", string(rec.Action))
	if err := e.publisher.Publish(TopicCritical, msg); err != nil {
		return fmt.Errorf("publish critical record: %w", err)
	}
	return nil
}

// MultiEscalator fans out to every escalator and joins their errors. One
// failing target does not stop the others.
type MultiEscalator struct {
	targets []Escalator
}

func NewMultiEscalator(targets ...Escalator) *MultiEscalator {
	nonNil := make([]Escalator, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			nonNil = append(nonNil, t)
		}
	}
	return &MultiEscalator{targets: nonNil}
}

func (m *MultiEscalator) Escalate(ctx context.Context, rec *Record) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Escalate(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryEscalator records escalations in memory.
type MemoryEscalator struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func NewMemoryEscalator() *MemoryEscalator {
	return &MemoryEscalator{}
}

// SetError makes later Escalate calls fail after recording.
func (m *MemoryEscalator) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryEscalator) Escalate(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, cloneRecord(rec))
	return m.err
}

// Records returns a snapshot of escalated records.
func (m *MemoryEscalator) Records() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, len(m.records))
	copy(out, m.records)
	return out
}

func newRecordMessage(ctx context.Context, rec *Record) (*message.Message, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal audit record: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("record_id", rec.ID)
	msg.Metadata.Set("entity_type", string(rec.EntityType))
	return msg, nil
}
