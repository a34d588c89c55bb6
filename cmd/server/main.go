// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package main is the entry point for the TradeAudit server.
//
// TradeAudit records a tamper-evident audit trail for a trading platform and
// ingests client telemetry. Audit records are checksummed with a keyed hash,
// persisted to DuckDB and escalated to a BadgerDB critical store and an alert
// channel when the primary write fails. Telemetry is buffered in memory,
// published to a real-time fast store and persisted through a durable job
// queue.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional config.yaml, environment (Koanf v2)
//  2. Logging: zerolog, bridged to slog for the supervisor tree
//  3. Database: DuckDB holding audit_logs, the trading tables and telemetry
//  4. Critical store: BadgerDB for escalated critical audit records
//  5. Messaging: Watermill over Go channels or NATS JetStream for alerts
//  6. Telemetry: fast store (Redis or in-process), job queue, service
//  7. WebSocket hub: live telemetry stream for administrators
//  8. HTTP server: chi router with JWT authentication and Casbin RBAC
//
// # Supervisor Tree
//
// Long-running components run under a suture supervisor tree:
//
//	tradeaudit
//	├── data-layer       telemetry-service, critical-store-gc
//	├── messaging-layer  alert-router, websocket-hub
//	└── api-layer        api-server
//
// # Signals
//
// SIGINT and SIGTERM cancel the root context. The tree stops every service
// and main then closes the transport, the queue, the critical store and the
// database in that order.
//
// # Example
//
//	AUDIT_HASH_SECRET=... JWT_SECRET=... ./tradeaudit
//	MESSAGING_TRANSPORT=nats NATS_EMBEDDED=true REDIS_URL=redis://localhost:6379/0 ./tradeaudit
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	_ "github.com/tomtom215/tradeaudit/docs" // swagger spec served at /swagger
	"github.com/tomtom215/tradeaudit/internal/api"
	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/auth"
	"github.com/tomtom215/tradeaudit/internal/authz"
	"github.com/tomtom215/tradeaudit/internal/breaker"
	"github.com/tomtom215/tradeaudit/internal/config"
	"github.com/tomtom215/tradeaudit/internal/database"
	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/messaging"
	"github.com/tomtom215/tradeaudit/internal/supervisor"
	"github.com/tomtom215/tradeaudit/internal/supervisor/services"
	"github.com/tomtom215/tradeaudit/internal/telemetry"
	ws "github.com/tomtom215/tradeaudit/internal/websocket"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const criticalStoreGCInterval = 10 * time.Minute

// components holds everything main has to close after the tree stops.
type components struct {
	db        *sql.DB
	critical  *audit.CriticalStore
	transport *messaging.Transport
	queue     *telemetry.Queue
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", Version).
		Str("environment", cfg.Server.Environment).
		Str("db_path", cfg.Audit.DatabasePath).
		Str("transport", cfg.Messaging.Transport).
		Bool("redis", cfg.Redis.URL != "").
		Msg("Starting TradeAudit with supervisor tree")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &components{}
	if err := run(ctx, cfg, c); err != nil {
		logging.Error().Err(err).Msg("TradeAudit stopped with error")
		c.close()
		stop()
		os.Exit(1)
	}
	c.close()
	logging.Info().Msg("Application stopped gracefully")
}

//nolint:gocyclo // sequential startup wiring
func run(ctx context.Context, cfg *config.Config, c *components) error {
	bs := breaker.DefaultSettings()

	db, err := database.Open(database.OptionsFromConfig(cfg.Audit))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	c.db = db
	logging.Info().Msg("Database initialized successfully")

	auditStore := audit.NewDuckDBStore(db)
	if err := auditStore.CreateTable(ctx); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	trading := audit.NewDuckDBTradingSource(db)
	if err := trading.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("create trading tables: %w", err)
	}
	durable := telemetry.NewDuckDBStore(db)
	if err := durable.CreateTables(ctx); err != nil {
		return fmt.Errorf("create telemetry tables: %w", err)
	}

	critical, err := audit.OpenCriticalStore(cfg.Audit.CriticalStoreDir)
	if err != nil {
		return fmt.Errorf("open critical store: %w", err)
	}
	c.critical = critical
	logging.Info().Str("dir", cfg.Audit.CriticalStoreDir).Msg("Critical store opened")

	wmLogger := logging.NewWatermillAdapter()
	transport, err := messaging.NewTransport(ctx, cfg.Messaging, bs, wmLogger)
	if err != nil {
		return fmt.Errorf("create messaging transport: %w", err)
	}
	c.transport = transport
	logging.Info().Str("kind", transport.Kind()).Msg("Messaging transport ready")

	notifier, err := newNotifier(cfg, bs)
	if err != nil {
		return err
	}
	routerCfg := messaging.DefaultRouterConfig()
	if cfg.Messaging.RetryCount > 0 {
		routerCfg.RetryMaxRetries = cfg.Messaging.RetryCount
	}
	if cfg.Messaging.PoisonTopic != "" {
		routerCfg.PoisonTopic = cfg.Messaging.PoisonTopic
	}
	alertRouter, err := messaging.NewAlertRouter(routerCfg, transport.Subscriber, transport.Publisher, notifier, wmLogger)
	if err != nil {
		return fmt.Errorf("create alert router: %w", err)
	}

	codec, err := audit.NewCodec(cfg.Audit.HashSecret)
	if err != nil {
		return fmt.Errorf("create audit codec: %w", err)
	}
	auditSvc := audit.NewService(audit.ServiceConfig{
		Store:             auditStore,
		Codec:             codec,
		Escalator:         audit.NewMultiEscalator(critical, audit.NewAlertingEscalator(transport.Publisher)),
		Alerter:           audit.NewPublishingAlerter(transport.Publisher),
		Trading:           trading,
		WriteAttempts:     cfg.Audit.WriteAttempts,
		WriteRetryBackoff: cfg.Audit.WriteRetryBackoff,
		Breaker:           bs,
	})

	checks := map[string]api.HealthCheck{
		"duckdb": database.HealthCheck(db),
	}

	var fast telemetry.FastStore
	if cfg.Redis.URL != "" {
		client, err := telemetry.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		redisStore := telemetry.NewRedisStore(client, cfg.Redis, bs)
		checks["redis"] = redisStore.Health
		fast = redisStore
		logging.Info().Msg("Redis fast store enabled")
	} else {
		fast = telemetry.NewMemoryFastStore()
		logging.Info().Msg("In-process fast store enabled (REDIS_URL not set)")
	}

	queue, err := telemetry.OpenQueue(telemetry.QueueConfig{
		Dir:           cfg.Telemetry.QueueDir,
		Workers:       cfg.Telemetry.Workers,
		MaxAttempts:   cfg.Telemetry.MaxAttempts,
		BaseBackoff:   cfg.Telemetry.BaseBackoff,
		MaxBackoff:    cfg.Telemetry.MaxBackoff,
		SweepInterval: cfg.Telemetry.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("open telemetry queue: %w", err)
	}
	c.queue = queue

	telemetrySvc := telemetry.NewService(cfg.Telemetry, fast, durable, queue)

	wsHub := ws.NewHub()
	telemetrySvc.OnFlush(func(category telemetry.Category, batch []telemetry.Entry) {
		items := make([]json.RawMessage, 0, len(batch))
		for _, e := range batch {
			items = append(items, e.Data)
		}
		wsHub.BroadcastBatch(string(category), items)
	})

	enforcer, err := authz.NewEnforcer(authz.DefaultEnforcerConfig())
	if err != nil {
		return fmt.Errorf("create enforcer: %w", err)
	}
	jwtManager, err := auth.NewJWTManager(cfg.Security)
	if err != nil {
		return fmt.Errorf("create JWT manager: %w", err)
	}

	handler := api.NewHandler(api.HandlerDeps{
		Config:       cfg,
		Audit:        auditSvc,
		Telemetry:    telemetrySvc,
		Critical:     critical,
		Enforcer:     enforcer,
		Hub:          wsHub,
		HealthChecks: checks,
		Version:      Version,
	})
	router := api.NewRouter(handler, jwtManager, api.ChiMiddlewareConfigFromSecurity(cfg.Security))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		// The telemetry stream is long-lived; writes are bounded per frame by the hub.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(telemetrySvc)
	if cfg.Telemetry.Retention > 0 {
		tree.AddDataService(services.NewRetentionService("telemetry-retention", telemetrySvc, cfg.Telemetry.Retention, cfg.Telemetry.RetentionInterval))
	}
	tree.AddDataService(services.NewGCService("critical-store-gc", critical, criticalStoreGCInterval))
	tree.AddMessagingService(alertRouter)
	tree.AddMessagingService(wsHub)
	tree.AddAPIService(services.NewHTTPServerService("api-server", server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			treeErr = err
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	return treeErr
}

// newNotifier returns the webhook notifier, or a log-only notifier when no
// webhook is configured.
func newNotifier(cfg *config.Config, bs breaker.Settings) (messaging.Notifier, error) {
	if cfg.Messaging.WebhookURL == "" {
		logging.Warn().Msg("ALERT_WEBHOOK_URL not set; audit alerts are logged only")
		return messaging.LogNotifier{}, nil
	}
	n, err := messaging.NewWebhookNotifier(messaging.WebhookConfig{
		URL:          cfg.Messaging.WebhookURL,
		Secret:       cfg.Audit.HashSecret,
		Timeout:      cfg.Messaging.WebhookTimeout,
		AlertsPerMin: cfg.Messaging.AlertsPerMin,
		Breaker:      bs,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook notifier: %w", err)
	}
	logging.Info().Int("alerts_per_minute", cfg.Messaging.AlertsPerMin).Msg("Alert webhook notifier enabled")
	return n, nil
}

func (c *components) close() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.transport != nil {
		if err := c.transport.Close(closeCtx); err != nil {
			logging.Error().Err(err).Msg("Error closing messaging transport")
		}
	}
	if c.queue != nil {
		if err := c.queue.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing telemetry queue")
		}
	}
	if c.critical != nil {
		if err := c.critical.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing critical store")
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}
}
