// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

/*
Package supervisor runs TradeAudit's long-lived components under a
thejerf/suture/v4 tree.

# Tree Layout

	RootSupervisor ("tradeaudit")
	├── data-layer
	│   ├── telemetry-service   (buffer flusher + queue workers)
	│   ├── telemetry-retention (purges durable telemetry past TELEMETRY_RETENTION)
	│   └── critical-store-gc   (Badger value log GC)
	├── messaging-layer
	│   ├── alert-router        (Watermill router delivering audit alerts)
	│   └── websocket-hub       (live telemetry feed)
	└── api-layer
	    └── api-server          (chi router behind net/http)

Each layer is its own supervisor, so a crash loop backs off only the layer
it happens in. An alert router that cannot reach NATS keeps restarting while
the API continues to record audit entries.

# Logging

Supervisor events are logged through sutureslog over the zerolog-backed
slog handler:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(telemetrySvc)
	tree.AddAPIService(services.NewHTTPServerService("api-server", srv, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)

# Shutdown

Canceling the context passed to Serve stops every service. Services that
exceed ShutdownTimeout are reported by UnstoppedServiceReport.
*/
package supervisor
