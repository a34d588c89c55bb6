// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthzDecisionsTotal counts decisions by role, object, action and outcome.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeaudit_authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"role", "object", "action", "decision"},
	)

	AuthzCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeaudit_authz_cache_hits_total",
			Help: "Authorization decisions served from cache",
		},
	)

	AuthzCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeaudit_authz_cache_misses_total",
			Help: "Authorization decisions evaluated by casbin",
		},
	)
)

// RecordAuthzDecision counts one decision.
func RecordAuthzDecision(role, object, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	AuthzDecisionsTotal.WithLabelValues(role, object, action, decision).Inc()
}
