// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/logging"
)

// DuckDBStore implements DurableStore on DuckDB.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore wraps an open DuckDB handle. Call CreateTables before use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

const (
	eventColumns  = "id, event_type, event_name, path, method, status_code, duration, session_id, user_id, metadata, user_agent, ip_address, created_at"
	metricColumns = "id, metric_type, metric_name, value, unit, path, session_id, user_id, metadata, created_at"
)

// CreateTables creates the event and metric tables if they don't exist.
func (s *DuckDBStore) CreateTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS telemetry_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			event_name TEXT NOT NULL,
			path TEXT,
			method TEXT,
			status_code INTEGER,
			duration DOUBLE,
			session_id TEXT,
			user_id TEXT,
			metadata TEXT,
			user_agent TEXT,
			ip_address TEXT,
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_telemetry_events_created_at ON telemetry_events(created_at);
		CREATE INDEX IF NOT EXISTS idx_telemetry_events_type ON telemetry_events(event_type, created_at);

		CREATE TABLE IF NOT EXISTS performance_metrics (
			id TEXT PRIMARY KEY,
			metric_type TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value DOUBLE NOT NULL,
			unit TEXT,
			path TEXT,
			session_id TEXT,
			user_id TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_performance_metrics_created_at ON performance_metrics(created_at);
		CREATE INDEX IF NOT EXISTS idx_performance_metrics_type ON performance_metrics(metric_type, created_at)
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute telemetry schema statement: %w", err)
		}
	}

	logging.Info().Msg("Telemetry tables created/verified")
	return nil
}

func (s *DuckDBStore) SaveEvent(ctx context.Context, e *Event) error {
	metadata, err := encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}

	var status sql.NullInt64
	if e.StatusCode != nil {
		status = sql.NullInt64{Int64: int64(*e.StatusCode), Valid: true}
	}
	var duration sql.NullFloat64
	if e.Duration != nil {
		duration = sql.NullFloat64{Float64: *e.Duration, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := "INSERT OR IGNORE INTO telemetry_events (" + eventColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		string(e.EventType),
		e.EventName,
		e.Path,
		e.Method,
		status,
		duration,
		e.SessionID,
		nullableString(e.UserID),
		metadata,
		e.UserAgent,
		e.IPAddress,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save telemetry event: %w", err)
	}
	return nil
}

func (s *DuckDBStore) SaveMetric(ctx context.Context, m *Metric) error {
	metadata, err := encodeMetadata(m.Metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := "INSERT OR IGNORE INTO performance_metrics (" + metricColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err = s.db.ExecContext(ctx, query,
		m.ID,
		string(m.MetricType),
		m.MetricName,
		m.Value,
		m.Unit,
		m.Path,
		m.SessionID,
		nullableString(m.UserID),
		metadata,
		m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save performance metric: %w", err)
	}
	return nil
}

func (s *DuckDBStore) Aggregate(ctx context.Context, start, end time.Time) (*Aggregated, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := &Aggregated{TimeRange: TimeRange{Start: start, End: end}, TopPages: []PathCount{}}
	startUTC, endUTC := start.UTC(), end.UTC()

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE event_type = ?),
			COUNT(*) FILTER (WHERE event_type = ?)
		FROM telemetry_events
		WHERE created_at >= ? AND created_at < ?`,
		string(EventAPICall), string(EventError), startUTC, endUTC,
	).Scan(&agg.TotalEvents, &agg.APICalls, &agg.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to count telemetry events: %w", err)
	}
	agg.ErrorRate = errorRate(agg.Errors, agg.APICalls)

	var avg, minV, maxV sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(value), MIN(value), MAX(value)
		FROM performance_metrics
		WHERE metric_type = ? AND created_at >= ? AND created_at < ?`,
		string(MetricAPIResponse), startUTC, endUTC,
	).Scan(&avg, &minV, &maxV)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate response times: %w", err)
	}
	agg.AvgResponseTime = avg.Float64
	agg.MinResponseTime = minV.Float64
	agg.MaxResponseTime = maxV.Float64

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, COUNT(*) AS visits
		FROM telemetry_events
		WHERE event_type = ? AND path IS NOT NULL AND path <> ''
			AND created_at >= ? AND created_at < ?
		GROUP BY path
		ORDER BY visits DESC, path ASC
		LIMIT `+strconv.Itoa(topPagesLimit),
		string(EventPageView), startUTC, endUTC,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pc PathCount
		if err := rows.Scan(&pc.Path, &pc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top page: %w", err)
		}
		agg.TopPages = append(agg.TopPages, pc)
	}
	return agg, rows.Err()
}

func (s *DuckDBStore) ExportEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM telemetry_events WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC, id ASC",
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to export telemetry events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			e         Event
			eventType string
			path      sql.NullString
			method    sql.NullString
			status    sql.NullInt64
			duration  sql.NullFloat64
			sessionID sql.NullString
			userID    sql.NullString
			metadata  sql.NullString
			userAgent sql.NullString
			ipAddress sql.NullString
		)
		if err := rows.Scan(&e.ID, &eventType, &e.EventName, &path, &method, &status, &duration,
			&sessionID, &userID, &metadata, &userAgent, &ipAddress, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Path = path.String
		e.Method = method.String
		if status.Valid {
			code := int(status.Int64)
			e.StatusCode = &code
		}
		if duration.Valid {
			d := duration.Float64
			e.Duration = &d
		}
		e.SessionID = sessionID.String
		e.UserID = stringPtr(userID)
		if e.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		e.UserAgent = userAgent.String
		e.IPAddress = ipAddress.String
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DuckDBStore) ExportMetrics(ctx context.Context, start, end time.Time) ([]Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+metricColumns+" FROM performance_metrics WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC, id ASC",
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to export performance metrics: %w", err)
	}
	defer rows.Close()

	out := []Metric{}
	for rows.Next() {
		var (
			m          Metric
			metricType string
			unit       sql.NullString
			path       sql.NullString
			sessionID  sql.NullString
			userID     sql.NullString
			metadata   sql.NullString
		)
		if err := rows.Scan(&m.ID, &metricType, &m.MetricName, &m.Value, &unit, &path,
			&sessionID, &userID, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan performance metric: %w", err)
		}
		m.MetricType = MetricType(metricType)
		m.Unit = unit.String
		m.Path = path.String
		m.SessionID = sessionID.String
		m.UserID = stringPtr(userID)
		if m.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *DuckDBStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, table := range []string{"telemetry_events", "performance_metrics"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", t.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to trim %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to count trimmed rows: %w", err)
		}
		total += n
	}
	return total, nil
}

func encodeMetadata(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode telemetry metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMetadata(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry metadata: %w", err)
	}
	return m, nil
}

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
