// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/authz"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		check      HealthCheck
		wantStatus string
		wantReady  int
	}{
		{
			name:       "healthy",
			check:      func(context.Context) error { return nil },
			wantStatus: statusHealthy,
			wantReady:  http.StatusOK,
		},
		{
			name:       "degraded",
			check:      func(context.Context) error { return errProbeFailed },
			wantStatus: statusDegraded,
			wantReady:  http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, withHealthCheck("duckdb", tt.check))

			rec := env.do(t, http.MethodGet, "/health", "", "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("/health status = %d", rec.Code)
			}
			var status HealthStatus
			decodeData(t, rec, &status)
			if status.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status.Status, tt.wantStatus)
			}
			if status.Version != "test" {
				t.Errorf("version = %q", status.Version)
			}
			check, ok := status.Checks["duckdb"]
			if !ok {
				t.Fatalf("checks = %v, want duckdb", status.Checks)
			}
			if check.Healthy != (tt.wantStatus == statusHealthy) {
				t.Errorf("duckdb healthy = %v", check.Healthy)
			}
			if !check.Healthy && check.Error != errProbeFailed.Error() {
				t.Errorf("duckdb error = %q", check.Error)
			}

			rec = env.do(t, http.MethodGet, "/health/ready", "", "", nil)
			if rec.Code != tt.wantReady {
				t.Errorf("/health/ready status = %d, want %d", rec.Code, tt.wantReady)
			}
			if tt.wantReady != http.StatusOK {
				var body struct {
					Error struct {
						Code    string                 `json:"code"`
						Details map[string]CheckResult `json:"details"`
					} `json:"error"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if body.Error.Code != ErrCodeServiceUnavailable || body.Error.Details["duckdb"].Healthy {
					t.Errorf("ready body = %s", rec.Body.String())
				}
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, withHealthCheck("redis", func(context.Context) error { return errProbeFailed }))

	rec := env.do(t, http.MethodGet, "/health/live", "", "", nil)
	var body map[string]string
	decodeData(t, rec, &body)
	if body["status"] != "alive" {
		t.Errorf("live = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/health", "", "", nil)
	rec := env.do(t, http.MethodGet, "/metrics", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tradeaudit_api_requests_total") {
		t.Errorf("metrics output missing request counter")
	}
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	expectError(t, env.do(t, http.MethodGet, "/api/v1/nope", "", "", nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, env.do(t, http.MethodDelete, "/health/live", "", "", nil), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestRouter_InvalidToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name        string
		header      string
		wantMessage string
	}{
		{"garbage bearer", "Bearer not-a-jwt", "Invalid or expired token"},
		{"missing", "", "Authentication required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.server.ServeHTTP(rec, req)

			expectError(t, rec, http.StatusUnauthorized, ErrCodeUnauthorized)
			if msg := decodeEnvelope(t, rec).Error.Message; msg != tt.wantMessage {
				t.Errorf("message = %q, want %q", msg, tt.wantMessage)
			}
		})
	}
}

func TestRouter_TokenFromCookie(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: env.token(t, "officer-1", authz.RoleComplianceOfficer)})
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_SecurityHeadersAndCORS(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/audit/logs", "officer-1", authz.RoleComplianceOfficer, nil)
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/audit/logs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	pre := httptest.NewRecorder()
	env.server.ServeHTTP(pre, req)
	if got := pre.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/audit/logs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	pre = httptest.NewRecorder()
	env.server.ServeHTTP(pre, req)
	if got := pre.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}
