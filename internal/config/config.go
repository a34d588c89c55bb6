// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package config loads TradeAudit configuration.
//
// Values are layered with koanf: built-in defaults, then an optional YAML file
// (CONFIG_PATH or ./config.yaml), then environment variables. The result is
// validated fail-fast; the service refuses to start without AUDIT_HASH_SECRET.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Security  SecurityConfig  `koanf:"security"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Redis     RedisConfig     `koanf:"redis"`
	Messaging MessagingConfig `koanf:"messaging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SecurityConfig holds token validation, CORS and rate limits.
type SecurityConfig struct {
	JWTSecret       string        `koanf:"jwt_secret"`
	JWTIssuer       string        `koanf:"jwt_issuer"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	// TrackRateLimitReqs bounds unauthenticated telemetry ingestion per IP.
	TrackRateLimitReqs int `koanf:"track_rate_limit_reqs"`
}

// AuditConfig holds the audit pipeline settings.
type AuditConfig struct {
	// HashSecret keys the record checksum. Mandatory.
	HashSecret string `koanf:"hash_secret"`

	// DatabasePath is the DuckDB file holding audit_logs and the trading tables.
	// ":memory:" is accepted for development.
	DatabasePath string `koanf:"database_path"`
	// DatabaseThreads and DatabaseMaxMemory tune DuckDB. Zero threads means
	// one per CPU.
	DatabaseThreads   int    `koanf:"database_threads"`
	DatabaseMaxMemory string `koanf:"database_max_memory"`

	// CriticalStoreDir is the BadgerDB directory for escalated critical records.
	CriticalStoreDir string `koanf:"critical_store_dir"`

	WriteAttempts     int           `koanf:"write_attempts"`
	WriteRetryBackoff time.Duration `koanf:"write_retry_backoff"`
}

// TelemetryConfig holds buffer, queue and retention settings.
type TelemetryConfig struct {
	FlushInterval   time.Duration `koanf:"flush_interval"`
	FlushThreshold  int           `koanf:"flush_threshold"`
	RealtimeWindow  time.Duration `koanf:"realtime_window"`
	QueueDir        string        `koanf:"queue_dir"`
	Workers         int           `koanf:"workers"`
	MaxAttempts     int           `koanf:"max_attempts"`
	BaseBackoff     time.Duration `koanf:"base_backoff"`
	MaxBackoff      time.Duration `koanf:"max_backoff"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
	MaxExportWindow time.Duration `koanf:"max_export_window"`

	// Retention is how long durable telemetry is kept. Zero keeps it forever.
	Retention         time.Duration `koanf:"retention"`
	RetentionInterval time.Duration `koanf:"retention_interval"`
}

// RedisConfig configures the real-time fast store. Empty URL selects the
// in-process store.
type RedisConfig struct {
	URL       string `koanf:"url"`
	KeyPrefix string `koanf:"key_prefix"`
}

// MessagingConfig configures the alert channel.
type MessagingConfig struct {
	// Transport is "gochannel" (in-process) or "nats".
	Transport      string        `koanf:"transport"`
	NATSURL        string        `koanf:"nats_url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	WebhookURL     string        `koanf:"webhook_url"`
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`
	AlertsPerMin   int           `koanf:"alerts_per_minute"`
	RetryCount     int           `koanf:"retry_count"`
	PoisonTopic    string        `koanf:"poison_topic"`
}
