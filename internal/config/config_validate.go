// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrMissingHashSecret is returned when AUDIT_HASH_SECRET is not configured.
// There is no default: a placeholder secret would make every checksum forgeable.
var ErrMissingHashSecret = errors.New("AUDIT_HASH_SECRET is required")

// minHashSecretLength is the shortest accepted audit secret in production.
const minHashSecretLength = 32

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateSecurity,
		c.validateAudit,
		c.validateTelemetry,
		c.validateRedis,
		c.validateMessaging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// IsProduction reports whether the server runs with production checks.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.Security.RateLimitReqs < 0 || c.Security.TrackRateLimitReqs < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.HashSecret == "" {
		return ErrMissingHashSecret
	}
	if c.IsProduction() && len(c.Audit.HashSecret) < minHashSecretLength {
		return fmt.Errorf("AUDIT_HASH_SECRET must be at least %d characters in production", minHashSecretLength)
	}
	if c.Audit.DatabasePath == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Audit.CriticalStoreDir == "" {
		return fmt.Errorf("AUDIT_CRITICAL_STORE_DIR is required")
	}
	if c.Audit.WriteAttempts < 1 || c.Audit.WriteAttempts > 10 {
		return fmt.Errorf("AUDIT_WRITE_ATTEMPTS must be between 1 and 10")
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	t := c.Telemetry
	if t.FlushInterval < 100*time.Millisecond || t.FlushInterval > time.Hour {
		return fmt.Errorf("TELEMETRY_FLUSH_INTERVAL must be between 100ms and 1h")
	}
	if t.FlushThreshold < 1 {
		return fmt.Errorf("TELEMETRY_FLUSH_THRESHOLD must be at least 1")
	}
	if t.RealtimeWindow < time.Minute {
		return fmt.Errorf("TELEMETRY_REALTIME_WINDOW must be at least 1m")
	}
	if t.QueueDir == "" {
		return fmt.Errorf("TELEMETRY_QUEUE_DIR is required")
	}
	if t.Workers < 1 || t.Workers > 64 {
		return fmt.Errorf("TELEMETRY_WORKERS must be between 1 and 64")
	}
	if t.MaxAttempts < 1 {
		return fmt.Errorf("TELEMETRY_MAX_ATTEMPTS must be at least 1")
	}
	if t.BaseBackoff <= 0 || t.MaxBackoff < t.BaseBackoff {
		return fmt.Errorf("TELEMETRY_BASE_BACKOFF must be positive and not exceed TELEMETRY_MAX_BACKOFF")
	}
	if t.Retention != 0 && t.Retention < t.RealtimeWindow {
		return fmt.Errorf("TELEMETRY_RETENTION must be 0 or at least TELEMETRY_REALTIME_WINDOW")
	}
	if t.Retention > 0 && t.RetentionInterval < time.Minute {
		return fmt.Errorf("TELEMETRY_RETENTION_INTERVAL must be at least 1m")
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.URL == "" {
		return nil
	}
	u, err := url.Parse(c.Redis.URL)
	if err != nil {
		return fmt.Errorf("REDIS_URL is invalid: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("REDIS_URL must use redis:// or rediss://")
	}
	return nil
}

func (c *Config) validateMessaging() error {
	switch c.Messaging.Transport {
	case "gochannel":
	case "nats":
		if _, err := url.Parse(c.Messaging.NATSURL); err != nil || c.Messaging.NATSURL == "" {
			return fmt.Errorf("NATS_URL is invalid")
		}
	default:
		return fmt.Errorf("MESSAGING_TRANSPORT must be gochannel or nats, got %q", c.Messaging.Transport)
	}
	if c.Messaging.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Messaging.WebhookURL); err != nil {
			return fmt.Errorf("ALERT_WEBHOOK_URL is invalid: %w", err)
		}
	}
	if c.Messaging.AlertsPerMin < 1 {
		return fmt.Errorf("ALERTS_PER_MINUTE must be at least 1")
	}
	return nil
}
