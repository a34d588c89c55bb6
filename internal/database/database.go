// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package database opens the DuckDB file shared by the audit and telemetry
// stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/tradeaudit/internal/config"
	"github.com/tomtom215/tradeaudit/internal/logging"
)

// InMemory selects a process-local database that vanishes on Close.
const InMemory = ":memory:"

const pingTimeout = 5 * time.Second

// Options tune the DuckDB connection.
type Options struct {
	Path      string
	Threads   int
	MaxMemory string
}

// OptionsFromConfig reads the DuckDB settings from the audit section.
func OptionsFromConfig(cfg config.AuditConfig) Options {
	return Options{
		Path:      cfg.DatabasePath,
		Threads:   cfg.DatabaseThreads,
		MaxMemory: cfg.DatabaseMaxMemory,
	}
}

// Open creates the parent directory if needed, opens DuckDB with the
// configured limits and verifies the connection.
func Open(opts Options) (*sql.DB, error) {
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	path := opts.Path
	if path == InMemory {
		path = ""
	}
	if dir := filepath.Dir(path); path != "" && dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// Extensions are never fetched at runtime; the schema only needs core types.
	dsn := fmt.Sprintf("%s?threads=%d&autoinstall_known_extensions=false&autoload_known_extensions=false", path, threads)
	if opts.MaxMemory != "" {
		dsn += "&max_memory=" + opts.MaxMemory
	}
	if path != "" {
		dsn += "&access_mode=read_write"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configureConnectionPool(db)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().
		Str("path", displayPath(opts.Path)).
		Int("threads", threads).
		Str("max_memory", opts.MaxMemory).
		Msg("DuckDB opened")
	return db, nil
}

// configureConnectionPool sizes the pool for DuckDB's in-process engine.
func configureConnectionPool(db *sql.DB) {
	db.SetMaxOpenConns(runtime.NumCPU())
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)
}

// HealthCheck returns a probe suitable for the readiness endpoint.
func HealthCheck(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("duckdb: %w", err)
		}
		return nil
	}
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close database")
	}
}

func displayPath(p string) string {
	if p == "" {
		return InMemory
	}
	return p
}
