// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/auth"
	"github.com/tomtom215/tradeaudit/internal/authz"
	"github.com/tomtom215/tradeaudit/internal/config"
	"github.com/tomtom215/tradeaudit/internal/telemetry"
)

type testEnv struct {
	cfg        *config.Config
	handler    *Handler
	server     http.Handler
	audit      *audit.Service
	auditStore *audit.MemoryStore
	telemetry  *telemetry.Service
	fast       *telemetry.MemoryFastStore
	durable    *telemetry.MemoryStore
	queue      *telemetry.Queue
	jwt        *auth.JWTManager
}

type envOption func(*HandlerDeps)

func withHealthCheck(name string, check HealthCheck) envOption {
	return func(d *HandlerDeps) {
		if d.HealthChecks == nil {
			d.HealthChecks = map[string]HealthCheck{}
		}
		d.HealthChecks[name] = check
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:   "api-test-secret-with-enough-entropy",
			JWTIssuer:   "tradeaudit-test",
			CORSOrigins: []string{"https://app.example.com"},
		},
		Telemetry: config.TelemetryConfig{
			FlushInterval:   time.Hour,
			FlushThreshold:  1,
			MaxExportWindow: 31 * 24 * time.Hour,
		},
	}

	codec, err := audit.NewCodec("api-test-audit-secret-long-enough")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	env := &testEnv{cfg: cfg, auditStore: audit.NewMemoryStore()}
	env.audit = audit.NewService(audit.ServiceConfig{
		Store:             env.auditStore,
		Codec:             codec,
		Alerter:           &audit.MemoryAlerter{},
		WriteRetryBackoff: time.Millisecond,
	})

	env.fast = telemetry.NewMemoryFastStore()
	env.durable = telemetry.NewMemoryStore()
	env.queue, err = telemetry.OpenQueue(telemetry.QueueConfig{
		InMemory:      true,
		Workers:       1,
		MaxAttempts:   2,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	t.Cleanup(func() { _ = env.queue.Close() })

	env.telemetry = telemetry.NewService(cfg.Telemetry, env.fast, env.durable, env.queue)
	if err := env.telemetry.Start(context.Background()); err != nil {
		t.Fatalf("telemetry Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.telemetry.Shutdown(ctx)
	})

	enforcer, err := authz.NewEnforcer(authz.DefaultEnforcerConfig())
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	env.jwt, err = auth.NewJWTManager(cfg.Security)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	deps := HandlerDeps{
		Config:    cfg,
		Audit:     env.audit,
		Telemetry: env.telemetry,
		Enforcer:  enforcer,
		Version:   "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.handler = NewHandler(deps)

	mw := ChiMiddlewareConfigFromSecurity(cfg.Security)
	env.server = NewRouter(env.handler, env.jwt, mw).SetupChi()
	return env
}

func (env *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := env.jwt.GenerateToken(userID, userID+"-name", role, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

// do sends a request as a user with role; an empty role sends no token.
func (env *testEnv) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "198.51.100.7:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+env.token(t, userID, role))
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) logEntry(t *testing.T, userID string, action audit.Action, entity audit.EntityType, entityID string) *audit.Record {
	t.Helper()
	e := audit.Entry{UserID: &userID, Action: action, EntityType: entity}
	if entityID != "" {
		e.EntityID = &entityID
	}
	rec, err := env.audit.Log(context.Background(), e)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	return rec
}

// envelope is APIResponse with Data left raw for typed decoding.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string           `json:"code"`
		Message string           `json:"message"`
		Details []map[string]any `json:"details"`
	} `json:"error"`
	Meta *APIMeta `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
	}
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) envelope {
	t.Helper()
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("response not successful: %s", rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return env
}

// expectError asserts status and error code and returns the field names in
// the details list.
func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) []string {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if env.Error.Code != code {
		t.Errorf("error code = %q, want %q", env.Error.Code, code)
	}
	fields := make([]string, 0, len(env.Error.Details))
	for _, d := range env.Error.Details {
		if f, ok := d["field"].(string); ok {
			fields = append(fields, f)
		}
	}
	return fields
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

var errProbeFailed = errors.New("probe failed")
