// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tradeaudit/internal/breaker"
	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/metrics"
)

// MinRetentionDays is the retention floor for ArchiveOldLogs.
const MinRetentionDays = 365

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrInvalidEntry         = errors.New("invalid audit entry")
	ErrPrimaryWriteFailed   = errors.New("audit record not persisted to primary store")
	ErrUnknownReportType    = errors.New("unknown report type")
	ErrUnsupportedFormat    = errors.New("unsupported report format")
	ErrFormatNotImplemented = errors.New("report format not implemented")
	ErrInvalidPeriod        = errors.New("report period end must be after start")
	ErrRetentionTooShort    = errors.New("daysToKeep is below the retention floor")
)

// ServiceConfig wires a Service. Store and Codec are required.
type ServiceConfig struct {
	Store     Store
	Codec     *Codec
	Escalator Escalator
	Alerter   Alerter
	Trading   TradingSource

	// Clock defaults to time.Now.
	Clock func() time.Time

	// WriteAttempts bounds primary write attempts (default 2).
	WriteAttempts int
	// WriteRetryBackoff is the pause between attempts (default 50ms).
	WriteRetryBackoff time.Duration
	// Breaker configures the primary-write circuit breaker.
	Breaker breaker.Settings
}

// Service is the audit facade: it writes checksummed records, verifies them,
// searches them and builds compliance reports.
type Service struct {
	store     Store
	codec     *Codec
	escalator Escalator
	alerter   Alerter
	trading   TradingSource
	now       func() time.Time
	attempts  int
	backoff   time.Duration
	cb        *gobreaker.CircuitBreaker[any]
}

// NewService panics if Store or Codec is nil; both are wiring errors.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Store == nil || cfg.Codec == nil {
		panic("audit: NewService requires a Store and a Codec")
	}
	s := &Service{
		store:     cfg.Store,
		codec:     cfg.Codec,
		escalator: cfg.Escalator,
		alerter:   cfg.Alerter,
		trading:   cfg.Trading,
		now:       cfg.Clock,
		attempts:  cfg.WriteAttempts,
		backoff:   cfg.WriteRetryBackoff,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.alerter == nil {
		s.alerter = LogAlerter{}
	}
	if s.escalator == nil {
		s.escalator = NewMultiEscalator()
	}
	if s.trading == nil {
		s.trading = NewMemoryTradingSource()
	}
	if s.attempts < 1 {
		s.attempts = 2
	}
	if s.backoff <= 0 {
		s.backoff = 50 * time.Millisecond
	}
	s.cb = breaker.New("audit_primary_store", cfg.Breaker)
	return s
}

// Log assembles, checksums and persists one record.
//
// The returned record is non-nil whenever the entry was valid, even if the
// primary write failed. In that case the error wraps ErrPrimaryWriteFailed and
// the alerter has already fired; callers should carry on with their business
// operation.
func (s *Service) Log(ctx context.Context, e Entry) (*Record, error) {
	if !e.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, e.Action)
	}
	if !e.EntityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidEntry, e.EntityType)
	}

	now := s.now().UTC()
	metadata, err := NormalizeMetadata(mergeMetadata(e, now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate record id: %w", err)
	}

	rec := &Record{
		ID:         id.String(),
		UserID:     copyString(e.UserID),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   copyString(e.EntityID),
		Metadata:   metadata,
		CreatedAt:  now.Truncate(time.Millisecond),
	}
	if e.Request != nil {
		rec.IPAddress = e.Request.IPAddress
		rec.UserAgent = e.Request.UserAgent
	}

	rec.Checksum, err = s.codec.Compute(fieldsOf(rec))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	writeErr := s.writePrimary(ctx, rec)

	if rec.Action.IsCritical() {
		escErr := s.escalator.Escalate(ctx, rec)
		metrics.RecordEscalation(escErr)
		if escErr != nil {
			logging.CtxErr(ctx, escErr).
				Str("record_id", rec.ID).
				Str("action", string(rec.Action)).
				Msg("Critical audit escalation failed")
		}
	}

	if writeErr != nil {
		s.alerter.AuditWriteFailed(ctx, rec, writeErr)
		return rec, fmt.Errorf("%w: %w", ErrPrimaryWriteFailed, writeErr)
	}

	metrics.RecordAuditWrite(string(rec.Action))
	return rec, nil
}

// writePrimary retries through the breaker. An open breaker ends the loop
// immediately.
func (s *Service) writePrimary(ctx context.Context, rec *Record) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		_, err = s.cb.Execute(func() (any, error) {
			return nil, s.store.Create(ctx, rec)
		})
		if err == nil || breaker.IsRejection(err) || attempt == s.attempts {
			return err
		}

		logging.Ctx(ctx).Warn().Err(err).
			Str("record_id", rec.ID).
			Int("attempt", attempt).
			Msg("Audit write failed, retrying")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(s.backoff):
		}
	}
	return err
}

// mergeMetadata folds oldValue/newValue and a capture timestamp into the
// caller's metadata without touching the caller's map.
func mergeMetadata(e Entry, now time.Time) map[string]any {
	m := make(map[string]any, len(e.Metadata)+3)
	for k, v := range e.Metadata {
		m[k] = v
	}
	if e.OldValue != nil {
		m["oldValue"] = e.OldValue
	}
	if e.NewValue != nil {
		m["newValue"] = e.NewValue
	}
	m["capturedAt"] = FormatTimestamp(now)
	return m
}

// VerifyIntegrity returns false for an unknown id. The error is reserved for
// storage failures.
func (s *Service) VerifyIntegrity(ctx context.Context, id string) (bool, error) {
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load audit record: %w", err)
	}
	return s.verify(ctx, rec), nil
}

func (s *Service) verify(ctx context.Context, rec *Record) bool {
	valid := s.codec.Verify(rec)
	metrics.RecordIntegrityCheck(valid)
	if !valid {
		s.alerter.IntegrityCheckFailed(ctx, rec)
	}
	return valid
}

func (s *Service) annotate(ctx context.Context, records []*Record) ([]VerifiedRecord, int64, int64) {
	out := make([]VerifiedRecord, len(records))
	var verified, failed int64
	for i, rec := range records {
		valid := s.verify(ctx, rec)
		out[i] = VerifiedRecord{Record: rec, IntegrityValid: valid}
		if valid {
			verified++
		} else {
			failed++
		}
	}
	return out, verified, failed
}

// SearchAuditLogs returns one page of matches, newest first, each annotated
// with its integrity outcome. The search itself is logged as AUDIT_LOG_ACCESS
// after the page is read, so the access record never appears in its own result.
func (s *Service) SearchAuditLogs(ctx context.Context, actor Actor, p SearchParams) (*SearchResult, error) {
	p.Normalize()
	f := p.filter()

	records, err := s.store.Search(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("search audit records: %w", err)
	}
	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count audit records: %w", err)
	}

	s.logAccess(ctx, actor, ActionAuditLogAccess, EntityAuditLog, nil, searchMetadata(p))

	logs, _, _ := s.annotate(ctx, records)
	return &SearchResult{
		Logs:       logs,
		Pagination: NewPagination(p.Page, p.Limit, total),
	}, nil
}

func searchMetadata(p SearchParams) map[string]any {
	m := map[string]any{"page": p.Page, "limit": p.Limit}
	filters := map[string]any{}
	if p.UserID != "" {
		filters["userId"] = p.UserID
	}
	if p.Action != "" {
		filters["action"] = string(p.Action)
	}
	if p.EntityType != "" {
		filters["entityType"] = string(p.EntityType)
	}
	if p.EntityID != "" {
		filters["entityId"] = p.EntityID
	}
	if p.IPAddress != "" {
		filters["ipAddress"] = p.IPAddress
	}
	if p.StartDate != nil {
		filters["startDate"] = FormatTimestamp(*p.StartDate)
	}
	if p.EndDate != nil {
		filters["endDate"] = FormatTimestamp(*p.EndDate)
	}
	m["filters"] = filters
	return m
}

// logAccess records a read of audit data. A failed write is already alerted
// inside Log; the read proceeds.
func (s *Service) logAccess(ctx context.Context, actor Actor, action Action, entity EntityType, entityID *string, metadata map[string]any) {
	_, err := s.Log(ctx, Entry{
		UserID:     actor.userIDPtr(),
		Action:     action,
		EntityType: entity,
		EntityID:   entityID,
		Metadata:   metadata,
		Request:    actor.Request,
	})
	if err != nil && !errors.Is(err, ErrPrimaryWriteFailed) {
		logging.CtxErr(ctx, err).Str("action", string(action)).Msg("Failed to record audit access")
	}
}

// GenerateComplianceReport validates the request, records the access and
// builds the report. Nothing is built for an unknown type or format.
func (s *Service) GenerateComplianceReport(ctx context.Context, actor Actor, p ReportParams) (*Report, error) {
	def, ok := LookupReport(p.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReportType, p.Type)
	}
	if err := CheckFormat(p.Format); err != nil {
		return nil, err
	}
	if !p.EndDate.After(p.StartDate) {
		return nil, ErrInvalidPeriod
	}

	meta := map[string]any{
		"reportType": string(p.Type),
		"startDate":  FormatTimestamp(p.StartDate),
		"endDate":    FormatTimestamp(p.EndDate),
		"format":     string(p.Format),
	}
	if p.UserID != "" {
		meta["userId"] = p.UserID
	}
	reportID := string(p.Type)
	s.logAccess(ctx, actor, ActionComplianceReportAccess, EntityReport, &reportID, meta)

	data, err := def.build(ctx, s, p)
	if err != nil {
		return nil, fmt.Errorf("build %s report: %w", p.Type, err)
	}
	metrics.ReportsGenerated.WithLabelValues(string(p.Type), string(p.Format)).Inc()

	return &Report{
		ReportType:  p.Type,
		GeneratedAt: s.now().UTC().Truncate(time.Millisecond),
		GeneratedBy: actor.UserID,
		Period:      Period{Start: p.StartDate.UTC(), End: p.EndDate.UTC()},
		Data:        data,
	}, nil
}

// ArchiveOldLogs moves records older than daysToKeep days to cold storage and
// logs AUDIT_LOG_ARCHIVED with the outcome.
func (s *Service) ArchiveOldLogs(ctx context.Context, actor Actor, daysToKeep int) (int64, error) {
	if daysToKeep < MinRetentionDays {
		return 0, fmt.Errorf("%w: %d < %d", ErrRetentionTooShort, daysToKeep, MinRetentionDays)
	}

	cutoff := s.now().UTC().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	moved, err := s.store.Archive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive audit records: %w", err)
	}
	metrics.AuditRecordsArchived.Add(float64(moved))

	s.logAccess(ctx, actor, ActionAuditLogArchived, EntityAuditLog, nil, map[string]any{
		"daysToKeep":    daysToKeep,
		"archivedCount": moved,
		"cutoff":        FormatTimestamp(cutoff),
	})

	logging.Ctx(ctx).Info().
		Int64("archived", moved).
		Time("cutoff", cutoff).
		Msg("Archived audit records")
	return moved, nil
}

// UserStat is a per-user count.
type UserStat struct {
	UserID string `json:"userId"`
	Count  int64  `json:"count"`
}

// Stats summarizes a window of audit activity.
type Stats struct {
	Period       Period           `json:"period"`
	Total        int64            `json:"total"`
	ByAction     map[string]int64 `json:"byAction"`
	ByEntityType map[string]int64 `json:"byEntityType"`
	TopUsers     []UserStat       `json:"topUsers"`
	Integrity    IntegrityTally   `json:"integrity"`
}

// IntegrityTally counts verification outcomes.
type IntegrityTally struct {
	Verified int64 `json:"verified"`
	Failed   int64 `json:"failed"`
}

// Stats verifies every record in [start, end) and tallies the outcome.
func (s *Service) Stats(ctx context.Context, start, end time.Time) (*Stats, error) {
	f := Filter{Start: &start, End: &end}

	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count audit records: %w", err)
	}
	byAction, err := s.countMap(ctx, f, GroupAction)
	if err != nil {
		return nil, err
	}
	byEntity, err := s.countMap(ctx, f, GroupEntityType)
	if err != nil {
		return nil, err
	}
	topUsers, err := s.topUsers(ctx, f, 10)
	if err != nil {
		return nil, err
	}

	records, err := s.store.Search(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load audit records: %w", err)
	}
	_, verified, failed := s.annotate(ctx, records)

	return &Stats{
		Period:       Period{Start: start.UTC(), End: end.UTC()},
		Total:        total,
		ByAction:     byAction,
		ByEntityType: byEntity,
		TopUsers:     topUsers,
		Integrity:    IntegrityTally{Verified: verified, Failed: failed},
	}, nil
}

func (s *Service) countMap(ctx context.Context, f Filter, key GroupKey) (map[string]int64, error) {
	groups, err := s.store.CountBy(ctx, f, key)
	if err != nil {
		return nil, fmt.Errorf("group by %s: %w", key, err)
	}
	out := make(map[string]int64, len(groups))
	for _, g := range groups {
		out[g.Keys[0]] = g.Count
	}
	return out, nil
}

func (s *Service) topUsers(ctx context.Context, f Filter, n int) ([]UserStat, error) {
	groups, err := s.store.CountBy(ctx, f, GroupUserID)
	if err != nil {
		return nil, fmt.Errorf("group by user: %w", err)
	}
	if len(groups) > n {
		groups = groups[:n]
	}
	out := make([]UserStat, len(groups))
	for i, g := range groups {
		out[i] = UserStat{UserID: g.Keys[0], Count: g.Count}
	}
	return out, nil
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
