// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package middleware

import (
	"net/http"
	"time"

	"github.com/tomtom215/tradeaudit/internal/logging"
)

// RequestLogger logs one line per request with method, path, status,
// size and duration. Requests slower than slow (when positive) are logged
// at warn level; 5xx responses at error level.
func RequestLogger(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := newStatusWriter(w)

			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			logger := logging.Ctx(r.Context())
			event := logger.Info()
			switch {
			case sw.status >= http.StatusInternalServerError:
				event = logger.Error()
			case slow > 0 && duration > slow:
				event = logger.Warn().Bool("slow", true)
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", sw.status).
				Int("bytes", sw.bytes).
				Dur("duration", duration).
				Msg("HTTP request")
		})
	}
}
