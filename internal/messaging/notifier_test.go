// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package messaging

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/breaker"
	"github.com/tomtom215/tradeaudit/internal/testinfra"
)

const testSecret = "test-secret-at-least-32-characters-long"

func newTestNotifier(t *testing.T, url string, perMin int) *WebhookNotifier {
	t.Helper()
	n, err := NewWebhookNotifier(WebhookConfig{
		URL:          url,
		Secret:       testSecret,
		Timeout:      2 * time.Second,
		AlertsPerMin: perMin,
		Breaker:      breaker.DefaultSettings(),
	})
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	return n
}

func TestWebhookNotifier_SignsBody(t *testing.T) {
	t.Parallel()
	hook := testinfra.NewMockWebhookServer(t)
	n := newTestNotifier(t, hook.URL(), 0)

	alert := &Alert{
		Topic:      "audit.critical",
		RecordID:   "rec-1",
		Action:     "ROLE_CHANGED",
		Record:     json.RawMessage(`{"id":"rec-1"}`),
		ReceivedAt: time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
	}
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	caps := hook.Captures()
	if len(caps) != 1 {
		t.Fatalf("webhook received %d requests, want 1", len(caps))
	}
	c := caps[0]
	if c.Method != http.MethodPost || c.Headers.Get("Content-Type") != "application/json" {
		t.Errorf("request = %s %s", c.Method, c.Headers.Get("Content-Type"))
	}

	key, _ := DeriveSigningKey(testSecret)
	if !VerifySignature(key, c.Body, c.Headers.Get(SignatureHeader)) {
		t.Errorf("signature %q does not verify", c.Headers.Get(SignatureHeader))
	}

	var got Alert
	if err := json.Unmarshal(c.Body, &got); err != nil {
		t.Fatalf("body is not an alert: %v", err)
	}
	if got.RecordID != "rec-1" || got.Topic != "audit.critical" || !bytes.Equal(got.Record, alert.Record) {
		t.Errorf("delivered alert = %+v", got)
	}
}

func TestWebhookNotifier_Throttles(t *testing.T) {
	t.Parallel()
	hook := testinfra.NewMockWebhookServer(t)
	n := newTestNotifier(t, hook.URL(), 2)

	ctx := context.Background()
	alert := &Alert{Topic: "audit.critical", RecordID: "r", Record: json.RawMessage(`{}`)}
	for i := 0; i < 2; i++ {
		if err := n.Notify(ctx, alert); err != nil {
			t.Fatalf("Notify #%d: %v", i+1, err)
		}
	}
	if err := n.Notify(ctx, alert); !errors.Is(err, ErrThrottled) {
		t.Errorf("third Notify = %v, want ErrThrottled", err)
	}
	if got := len(hook.Captures()); got != 2 {
		t.Errorf("webhook received %d requests, want 2", got)
	}
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	t.Parallel()
	hook := testinfra.NewMockWebhookServer(t)
	hook.SetStatus(http.StatusBadGateway)
	n := newTestNotifier(t, hook.URL(), 0)

	err := n.Notify(context.Background(), &Alert{Topic: "audit.write_failed", Record: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestNewWebhookNotifier_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewWebhookNotifier(WebhookConfig{Secret: testSecret}); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := NewWebhookNotifier(WebhookConfig{URL: "http://localhost"}); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestDeriveSigningKey(t *testing.T) {
	t.Parallel()
	a, err := DeriveSigningKey(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := DeriveSigningKey(testSecret)
	other, _ := DeriveSigningKey(testSecret + "x")

	if len(a) != 32 {
		t.Errorf("key length = %d, want 32", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Error("derivation is not deterministic")
	}
	if bytes.Equal(a, other) {
		t.Error("different secrets produced the same key")
	}
	if bytes.Equal(a, []byte(testSecret)[:32]) {
		t.Error("derived key equals the raw secret")
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()
	key := []byte("k")
	body := []byte(`{"a":1}`)
	good := "sha256=" + Sign(key, body)

	tests := []struct {
		name   string
		body   []byte
		header string
		want   bool
	}{
		{"valid", body, good, true},
		{"tampered body", []byte(`{"a":2}`), good, false},
		{"missing prefix", body, Sign(key, body), false},
		{"not hex", body, "sha256=zz", false},
		{"empty", body, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(key, tt.body, tt.header); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}
