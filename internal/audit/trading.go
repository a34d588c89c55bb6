// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Trade is an executed trade as recorded by the trading platform.
type Trade struct {
	ID         string
	OrderID    string
	TraderID   string
	Product    string
	Price      float64
	Quantity   float64
	ExecutedAt time.Time
}

// Notional is execution price times execution quantity.
func (t Trade) Notional() float64 {
	return t.Price * t.Quantity
}

// TradingSource is read-only access to trading data for trade_summary.
// Windows are half-open: [start, end).
type TradingSource interface {
	Trades(ctx context.Context, start, end time.Time) ([]Trade, error)
	OrderCount(ctx context.Context, start, end time.Time) (int64, error)
}

// MemoryTradingSource holds trades and order timestamps in memory.
type MemoryTradingSource struct {
	mu     sync.RWMutex
	trades []Trade
	orders []time.Time
}

func NewMemoryTradingSource() *MemoryTradingSource {
	return &MemoryTradingSource{}
}

func (m *MemoryTradingSource) AddTrade(t Trade) {
	m.mu.Lock()
	m.trades = append(m.trades, t)
	m.mu.Unlock()
}

// AddOrder records an order placed at createdAt.
func (m *MemoryTradingSource) AddOrder(createdAt time.Time) {
	m.mu.Lock()
	m.orders = append(m.orders, createdAt)
	m.mu.Unlock()
}

func (m *MemoryTradingSource) Trades(_ context.Context, start, end time.Time) ([]Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Trade, 0)
	for _, t := range m.trades {
		if inWindow(t.ExecutedAt, start, end) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryTradingSource) OrderCount(_ context.Context, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, at := range m.orders {
		if inWindow(at, start, end) {
			n++
		}
	}
	return n, nil
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// DuckDBTradingSource reads the trading platform's trades and orders tables.
type DuckDBTradingSource struct {
	db *sql.DB
}

func NewDuckDBTradingSource(db *sql.DB) *DuckDBTradingSource {
	return &DuckDBTradingSource{db: db}
}

// EnsureSchema creates the trades and orders tables for development and tests.
// In production those tables belong to the trading platform.
func (s *DuckDBTradingSource) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			trader_id TEXT,
			product TEXT,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			order_id TEXT,
			trader_id TEXT,
			product TEXT NOT NULL,
			execution_price DOUBLE NOT NULL,
			execution_quantity DOUBLE NOT NULL,
			executed_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
		CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at)
	`
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute trading schema statement: %w", err)
		}
	}
	return nil
}

func (s *DuckDBTradingSource) Trades(ctx context.Context, start, end time.Time) ([]Trade, error) {
	query := `
		SELECT id, COALESCE(order_id, ''), COALESCE(trader_id, ''), product,
			execution_price, execution_quantity, executed_at
		FROM trades
		WHERE executed_at >= ? AND executed_at < ?
		ORDER BY executed_at
	`
	rows, err := s.db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]Trade, 0)
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.TraderID, &t.Product, &t.Price, &t.Quantity, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

func (s *DuckDBTradingSource) OrderCount(ctx context.Context, start, end time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE created_at >= ? AND created_at < ?",
		start.UTC(), end.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}
