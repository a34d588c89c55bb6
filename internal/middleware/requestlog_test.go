// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/tradeaudit/internal/logging"
)

// These tests swap the global logger and so do not run in parallel.

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	t.Cleanup(func() { logging.SetLogger(prev) })
	return &buf
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		delay     time.Duration
		slow      time.Duration
		wantLevel string
		wantSlow  bool
	}{
		{"ok is info", http.StatusOK, 0, time.Second, "info", false},
		{"server error", http.StatusBadGateway, 0, time.Second, "error", false},
		{"slow request", http.StatusOK, 20 * time.Millisecond, time.Millisecond, "warn", true},
		{"slow disabled", http.StatusOK, 5 * time.Millisecond, 0, "info", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			handler := RequestLogger(tt.slow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tt.delay)
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/x", nil))

			out := buf.String()
			if !strings.Contains(out, `"level":"`+tt.wantLevel+`"`) {
				t.Errorf("log %q missing level %s", out, tt.wantLevel)
			}
			if !strings.Contains(out, `"path":"/api/v1/x"`) {
				t.Errorf("log %q missing path", out)
			}
			if got := strings.Contains(out, `"slow":true`); got != tt.wantSlow {
				t.Errorf("slow flag = %v, want %v", got, tt.wantSlow)
			}
		})
	}
}
