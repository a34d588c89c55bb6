// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// Health status values.
const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status           string                 `json:"status"`
	Version          string                 `json:"version,omitempty"`
	Uptime           float64                `json:"uptimeSeconds"`
	Checks           map[string]CheckResult `json:"checks"`
	WebSocketClients int                    `json:"websocketClients"`
}

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Healthy   bool    `json:"healthy"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latencyMs"`
}

// Health reports dependency status. It always answers 200 so load balancers
// can tell a degraded process from a dead one; use /health/ready for gating.
//
// @Summary Service health
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse{data=HealthStatus}
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.healthStatus(r.Context()))
}

// HealthLive answers as long as the process serves HTTP.
//
// @Summary Liveness probe
// @Tags Health
// @Success 200 {object} APIResponse
// @Router /health/live [get]
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]string{"status": "alive"})
}

// HealthReady answers 503 while any dependency check fails.
//
// @Summary Readiness probe
// @Tags Health
// @Success 200 {object} APIResponse{data=HealthStatus}
// @Failure 503 {object} APIResponse
// @Router /health/ready [get]
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	status := h.healthStatus(r.Context())
	if status.Status != statusHealthy {
		NewResponseWriter(w, r).ErrorWithDetails(http.StatusServiceUnavailable,
			ErrCodeServiceUnavailable, "Service not ready", status.Checks)
		return
	}
	WriteSuccess(w, r, status)
}

func (h *Handler) healthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:  statusHealthy,
		Version: h.version,
		Uptime:  time.Since(h.startTime).Seconds(),
		Checks:  h.runChecks(ctx),
	}
	for _, c := range status.Checks {
		if !c.Healthy {
			status.Status = statusDegraded
			break
		}
	}
	if h.wsHub != nil {
		status.WebSocketClients = h.wsHub.GetClientCount()
	}
	return status
}

// runChecks probes every dependency concurrently.
func (h *Handler) runChecks(ctx context.Context) map[string]CheckResult {
	results := make(map[string]CheckResult, len(h.checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()

			start := time.Now()
			err := check(checkCtx)
			res := CheckResult{Healthy: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				res.Error = err.Error()
			}

			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}
