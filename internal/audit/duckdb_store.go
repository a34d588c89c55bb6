// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/database/query"
	"github.com/tomtom215/tradeaudit/internal/logging"
)

// DuckDBStore implements Store on DuckDB. Timestamps are stored as UTC
// TIMESTAMP values and metadata as JSON text, so a record reads back exactly
// as it was hashed.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore wraps an open DuckDB handle. Call CreateTable before use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

const auditColumns = "id, user_id, action, entity_type, entity_id, metadata, ip_address, user_agent, checksum, created_at"

// CreateTable creates the hot and archive tables if they don't exist.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			metadata TEXT,
			ip_address TEXT,
			user_agent TEXT,
			checksum TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(entity_type, entity_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_ip ON audit_logs(ip_address);

		-- Cold storage, written only by Archive
		CREATE TABLE IF NOT EXISTS audit_logs_archive (
			id TEXT,
			user_id TEXT,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			metadata TEXT,
			ip_address TEXT,
			user_agent TEXT,
			checksum TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			archived_at TIMESTAMP NOT NULL
		);
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute audit schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit log tables created/verified")
	return nil
}

func (s *DuckDBStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadata sql.NullString
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	stmt := "INSERT INTO audit_logs (" + auditColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, stmt,
		rec.ID,
		nullableString(rec.UserID),
		string(rec.Action),
		string(rec.EntityType),
		nullableString(rec.EntityID),
		metadata,
		rec.IPAddress,
		rec.UserAgent,
		rec.Checksum,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}
	return nil
}

func (s *DuckDBStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+auditColumns+" FROM audit_logs WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return rec, nil
}

func (s *DuckDBStore) Search(ctx context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := filterWhere(f).BuildWithPrefix()
	stmt := "SELECT " + auditColumns + " FROM audit_logs" + where +
		" ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		stmt += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return records, nil
}

func (s *DuckDBStore) Count(ctx context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := filterWhere(f).BuildWithPrefix()
	stmt := "SELECT COUNT(*) FROM audit_logs" + where

	var count int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// groupExpressions whitelists the SQL expression for each GroupKey.
var groupExpressions = map[GroupKey]struct {
	expr    string
	present string
}{
	GroupAction:     {"action", ""},
	GroupEntityType: {"entity_type", ""},
	GroupUserID:     {"user_id", "user_id"},
	GroupIPAddress:  {"ip_address", "ip_address"},
	GroupHourOfDay:  {"CAST(hour(created_at) AS VARCHAR)", ""},
}

func (s *DuckDBStore) CountBy(ctx context.Context, f Filter, keys ...GroupKey) ([]GroupCount, error) {
	if len(keys) == 0 {
		return nil, errors.New("CountBy requires at least one group key")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	wb := filterWhere(f)
	exprs := make([]string, len(keys))
	for i, k := range keys {
		g, ok := groupExpressions[k]
		if !ok {
			return nil, fmt.Errorf("unsupported group key %q", k)
		}
		exprs[i] = g.expr
		if g.present != "" {
			wb.AddNotBlank(g.present)
		}
	}
	groupBy := strings.Join(exprs, ", ")

	where, args := wb.BuildWithPrefix()
	stmt := fmt.Sprintf("SELECT %s, COUNT(*) AS cnt FROM audit_logs%s GROUP BY %s ORDER BY cnt DESC, %s",
		groupBy, where, groupBy, groupBy)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group audit records: %w", err)
	}
	defer rows.Close()

	out := make([]GroupCount, 0)
	for rows.Next() {
		values := make([]string, len(keys))
		dest := make([]interface{}, 0, len(keys)+1)
		for i := range values {
			dest = append(dest, &values[i])
		}
		var count int64
		dest = append(dest, &count)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan grouped count: %w", err)
		}
		out = append(out, GroupCount{Keys: values, Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grouped counts: %w", err)
	}
	return out, nil
}

func (s *DuckDBStore) DistinctUsers(ctx context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := filterWhere(f).AddNotBlank("user_id").BuildWithPrefix()
	stmt := "SELECT COUNT(DISTINCT user_id) FROM audit_logs" + where

	var count int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count distinct users: %w", err)
	}
	return count, nil
}

// Archive copies rows older than olderThan into audit_logs_archive and removes
// them from audit_logs in a single transaction.
func (s *DuckDBStore) Archive(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := olderThan.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := "INSERT INTO audit_logs_archive (" + auditColumns + ", archived_at) " +
		"SELECT " + auditColumns + ", CAST(? AS TIMESTAMP) FROM audit_logs WHERE created_at < ?"
	if _, err := tx.ExecContext(ctx, insert, time.Now().UTC(), cutoff); err != nil {
		return 0, fmt.Errorf("failed to copy audit records to archive: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM audit_logs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to remove archived audit records: %w", err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get archived count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return moved, nil
}

// filterWhere translates f into a WHERE builder. Callers may append
// further clauses before building.
func filterWhere(f Filter) *query.WhereBuilder {
	actions := make([]string, len(f.Actions))
	for i, a := range f.Actions {
		actions[i] = string(a)
	}
	return query.NewWhereBuilder().
		AddEquals("user_id", f.UserID).
		AddEquals("action", string(f.Action)).
		AddIn("action", actions).
		AddEquals("entity_type", string(f.EntityType)).
		AddEquals("entity_id", f.EntityID).
		AddEquals("ip_address", f.IPAddress).
		AddTimeRange("created_at", f.Start, f.End)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec        Record
		userID     sql.NullString
		action     string
		entityType string
		entityID   sql.NullString
		metadata   sql.NullString
		ipAddress  sql.NullString
		userAgent  sql.NullString
	)
	if err := row.Scan(&rec.ID, &userID, &action, &entityType, &entityID, &metadata,
		&ipAddress, &userAgent, &rec.Checksum, &rec.CreatedAt); err != nil {
		return nil, err
	}

	rec.Action = Action(action)
	rec.EntityType = EntityType(entityType)
	rec.UserID = stringPtr(userID)
	rec.EntityID = stringPtr(entityID)
	rec.IPAddress = ipAddress.String
	rec.UserAgent = userAgent.String
	rec.CreatedAt = rec.CreatedAt.UTC()

	if metadata.Valid {
		m, err := DecodeMetadata([]byte(metadata.String))
		if err != nil {
			logging.Warn().Err(err).Str("audit_id", rec.ID).Msg("Stored audit metadata is unreadable")
			m = map[string]any{UnreadableMetadataKey: metadata.String}
			rec.unreadable = true
		}
		rec.Metadata = m
	}
	return &rec, nil
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
	v := ns.String
	return &v
}
