// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

/*
Package middleware provides the HTTP infrastructure middleware shared by every
route: request id propagation, structured request logging and Prometheus
instrumentation.

All constructors take and return http.Handler so they slot into a chi router
with r.Use:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(500 * time.Millisecond))
	r.Use(middleware.PrometheusMetrics)

RequestID honors an upstream X-Request-ID header, generates one otherwise,
echoes it on the response and stores it in the context through the logging
package so every log line for the request carries it.

PrometheusMetrics labels requests by the matched chi route pattern rather
than the raw path, which keeps label cardinality bounded for paths such as
/api/v1/audit/users/{userId}/logs. Requests that match no route are recorded
under "unmatched".
*/
package middleware
