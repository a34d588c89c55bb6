// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tradeaudit/config.yaml",
}

// ConfigPathEnvVar names the environment variable holding an explicit config file.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			JWTIssuer:          "tradeaudit",
			CORSOrigins:        []string{"*"},
			RateLimitReqs:      100,
			RateLimitWindow:    time.Minute,
			TrackRateLimitReqs: 600,
		},
		Audit: AuditConfig{
			DatabasePath:      "/data/tradeaudit.duckdb",
			DatabaseMaxMemory: "1GB",
			CriticalStoreDir:  "/data/critical",
			WriteAttempts:     2,
			WriteRetryBackoff: 50 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			FlushInterval:   10 * time.Second,
			FlushThreshold:  100,
			RealtimeWindow:  24 * time.Hour,
			QueueDir:        "/data/telemetry-queue",
			Workers:         4,
			MaxAttempts:     5,
			BaseBackoff:     time.Second,
			MaxBackoff:      5 * time.Minute,
			SweepInterval:   5 * time.Second,
			MaxExportWindow: 31 * 24 * time.Hour,

			Retention:         90 * 24 * time.Hour,
			RetentionInterval: time.Hour,
		},
		Redis: RedisConfig{
			KeyPrefix: "telemetry:",
		},
		Messaging: MessagingConfig{
			Transport:      "gochannel",
			NATSURL:        "nats://127.0.0.1:4222",
			StoreDir:       "/data/nats",
			WebhookTimeout: 5 * time.Second,
			AlertsPerMin:   30,
			RetryCount:     3,
			PoisonTopic:    "audit.alerts.poison",
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unknown variables are ignored.
var envMappings = map[string]string{
	"http_port":        "server.port",
	"http_host":        "server.host",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"jwt_secret":            "security.jwt_secret",
	"jwt_issuer":            "security.jwt_issuer",
	"cors_origins":          "security.cors_origins",
	"rate_limit_requests":   "security.rate_limit_reqs",
	"rate_limit_window":     "security.rate_limit_window",
	"track_rate_limit_reqs": "security.track_rate_limit_reqs",

	"audit_hash_secret":         "audit.hash_secret",
	"duckdb_path":               "audit.database_path",
	"duckdb_threads":            "audit.database_threads",
	"duckdb_max_memory":         "audit.database_max_memory",
	"audit_critical_store_dir":  "audit.critical_store_dir",
	"audit_write_attempts":      "audit.write_attempts",
	"audit_write_retry_backoff": "audit.write_retry_backoff",

	"telemetry_flush_interval":     "telemetry.flush_interval",
	"telemetry_flush_threshold":    "telemetry.flush_threshold",
	"telemetry_realtime_window":    "telemetry.realtime_window",
	"telemetry_queue_dir":          "telemetry.queue_dir",
	"telemetry_workers":            "telemetry.workers",
	"telemetry_max_attempts":       "telemetry.max_attempts",
	"telemetry_base_backoff":       "telemetry.base_backoff",
	"telemetry_max_backoff":        "telemetry.max_backoff",
	"telemetry_sweep_interval":     "telemetry.sweep_interval",
	"telemetry_max_export_window":  "telemetry.max_export_window",
	"telemetry_retention":          "telemetry.retention",
	"telemetry_retention_interval": "telemetry.retention_interval",

	"redis_url":        "redis.url",
	"redis_key_prefix": "redis.key_prefix",

	"messaging_transport":   "messaging.transport",
	"nats_url":              "messaging.nats_url",
	"nats_embedded":         "messaging.embedded_server",
	"nats_store_dir":        "messaging.store_dir",
	"alert_webhook_url":     "messaging.webhook_url",
	"alert_webhook_timeout": "messaging.webhook_timeout",
	"alerts_per_minute":     "messaging.alerts_per_minute",
	"alert_retry_count":     "messaging.retry_count",
	"alert_poison_topic":    "messaging.poison_topic",
}

func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
