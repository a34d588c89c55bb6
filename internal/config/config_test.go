// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setRequiredEnv sets the variables without which Load always fails.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-jwt-secret")
	t.Setenv("AUDIT_HASH_SECRET", "test-audit-secret")
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Audit.HashSecret != "" {
		t.Errorf("Audit.HashSecret must have no default, got %q", cfg.Audit.HashSecret)
	}
	if cfg.Telemetry.FlushInterval != 10*time.Second {
		t.Errorf("Telemetry.FlushInterval = %v, want 10s", cfg.Telemetry.FlushInterval)
	}
	if cfg.Telemetry.FlushThreshold != 100 {
		t.Errorf("Telemetry.FlushThreshold = %d, want 100", cfg.Telemetry.FlushThreshold)
	}
	if cfg.Telemetry.RealtimeWindow != 24*time.Hour {
		t.Errorf("Telemetry.RealtimeWindow = %v, want 24h", cfg.Telemetry.RealtimeWindow)
	}
	if cfg.Messaging.Transport != "gochannel" {
		t.Errorf("Messaging.Transport = %q, want gochannel", cfg.Messaging.Transport)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TELEMETRY_WORKERS", "8")
	t.Setenv("TELEMETRY_FLUSH_INTERVAL", "2s")
	t.Setenv("TELEMETRY_RETENTION", "168h")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Telemetry.Workers != 8 {
		t.Errorf("Telemetry.Workers = %d, want 8", cfg.Telemetry.Workers)
	}
	if cfg.Telemetry.FlushInterval != 2*time.Second {
		t.Errorf("Telemetry.FlushInterval = %v, want 2s", cfg.Telemetry.FlushInterval)
	}
	if cfg.Telemetry.Retention != 7*24*time.Hour {
		t.Errorf("Telemetry.Retention = %v, want 168h", cfg.Telemetry.Retention)
	}
	if cfg.Telemetry.RetentionInterval != time.Hour {
		t.Errorf("Telemetry.RetentionInterval = %v, want default 1h", cfg.Telemetry.RetentionInterval)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.Security.CORSOrigins)
	}
	if cfg.Audit.HashSecret != "test-audit-secret" {
		t.Errorf("Audit.HashSecret not loaded")
	}
}

func TestLoad_YAMLFileThenEnvOverride(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "server:\n  port: 7000\ntelemetry:\n  flush_threshold: 250\n  workers: 2\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("TELEMETRY_WORKERS", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000 from file", cfg.Server.Port)
	}
	if cfg.Telemetry.FlushThreshold != 250 {
		t.Errorf("FlushThreshold = %d, want 250 from file", cfg.Telemetry.FlushThreshold)
	}
	if cfg.Telemetry.Workers != 6 {
		t.Errorf("Workers = %d, want 6 from env", cfg.Telemetry.Workers)
	}
}

func TestLoad_MissingHashSecretFailsFast(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-jwt-secret")
	t.Setenv("AUDIT_HASH_SECRET", "")
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	if !errors.Is(err, ErrMissingHashSecret) {
		t.Fatalf("Load() error = %v, want ErrMissingHashSecret", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "HTTP_PORT"},
		{"missing jwt", func(c *Config) { c.Security.JWTSecret = "" }, "JWT_SECRET"},
		{"short secret in production", func(c *Config) { c.Server.Environment = "production"; c.Security.JWTSecret = strings.Repeat("j", 40) }, "AUDIT_HASH_SECRET must be at least"},
		{"zero workers", func(c *Config) { c.Telemetry.Workers = 0 }, "TELEMETRY_WORKERS"},
		{"backoff inverted", func(c *Config) { c.Telemetry.MaxBackoff = time.Millisecond }, "TELEMETRY_BASE_BACKOFF"},
		{"retention below realtime window", func(c *Config) { c.Telemetry.Retention = time.Hour }, "TELEMETRY_RETENTION"},
		{"retention disabled", func(c *Config) { c.Telemetry.Retention = 0; c.Telemetry.RetentionInterval = 0 }, ""},
		{"retention interval too short", func(c *Config) { c.Telemetry.RetentionInterval = time.Second }, "TELEMETRY_RETENTION_INTERVAL"},
		{"redis scheme", func(c *Config) { c.Redis.URL = "http://localhost:6379" }, "REDIS_URL"},
		{"unknown transport", func(c *Config) { c.Messaging.Transport = "kafka" }, "MESSAGING_TRANSPORT"},
		{"bad webhook", func(c *Config) { c.Messaging.WebhookURL = "not a url" }, "ALERT_WEBHOOK_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWTSecret = "test-jwt-secret"
			cfg.Audit.HashSecret = "test-audit-secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	if got := envTransformFunc("AUDIT_HASH_SECRET"); got != "audit.hash_secret" {
		t.Errorf("envTransformFunc(AUDIT_HASH_SECRET) = %q", got)
	}
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("envTransformFunc(PATH) = %q, want empty", got)
	}
}
