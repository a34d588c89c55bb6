// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package messaging

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tradeaudit/internal/breaker"
	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/metrics"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-TradeAudit-Signature"

const (
	signingKeyInfo        = "tradeaudit alert webhook v1"
	signingKeyLen         = 32
	defaultWebhookTimeout = 5 * time.Second
	maxErrorBody          = 512
)

// ErrThrottled is returned when the delivery rate limit is exhausted.
var ErrThrottled = errors.New("alert delivery throttled")

// Alert is the JSON body sent to the webhook.
type Alert struct {
	Topic      string          `json:"topic"`
	RecordID   string          `json:"recordId"`
	Action     string          `json:"action,omitempty"`
	EntityType string          `json:"entityType,omitempty"`
	Cause      string          `json:"cause,omitempty"`
	Record     json.RawMessage `json:"record"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, alert *Alert) error
}

// LogNotifier writes alerts to the log. It is used when no webhook is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, alert *Alert) error {
	logging.Ctx(ctx).Warn().
		Str("topic", alert.Topic).
		Str("record_id", alert.RecordID).
		Str("action", alert.Action).
		Str("cause", alert.Cause).
		Msg("Audit alert")
	return nil
}

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL string
	// Secret is the audit hash secret; the signing key is derived from it.
	Secret       string
	Timeout      time.Duration
	AlertsPerMin int
	Breaker      breaker.Settings
}

// WebhookNotifier POSTs signed alerts to an operator endpoint.
type WebhookNotifier struct {
	url     string
	key     []byte
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[any]
}

// NewWebhookNotifier derives the signing key and builds the HTTP client.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	key, err := DeriveSigningKey(cfg.Secret)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.AlertsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.AlertsPerMin)), cfg.AlertsPerMin)
	}

	return &WebhookNotifier{
		url:     cfg.URL,
		key:     key,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		cb:      breaker.New("alert_webhook", cfg.Breaker),
	}, nil
}

// Notify sends one alert. Alerts over the rate limit are dropped with
// ErrThrottled; the router treats that as handled.
func (n *WebhookNotifier) Notify(ctx context.Context, alert *Alert) error {
	if !n.limiter.Allow() {
		metrics.AlertsDelivered.WithLabelValues("throttled").Inc()
		return ErrThrottled
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	_, err = n.cb.Execute(func() (any, error) {
		return nil, n.post(ctx, body)
	})
	if err != nil {
		metrics.AlertsDelivered.WithLabelValues("failure").Inc()
		return err
	}
	metrics.AlertsDelivered.WithLabelValues("success").Inc()
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tradeaudit-alerts/1")
	req.Header.Set(SignatureHeader, "sha256="+Sign(n.key, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// DeriveSigningKey derives the webhook HMAC key from the audit secret using
// HKDF-SHA256.
func DeriveSigningKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("signing secret must not be empty")
	}
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingKeyInfo))
	key := make([]byte, signingKeyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

// Sign returns hex(HMAC-SHA256(key, body)).
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a header value of the form "sha256=<hex>".
func VerifySignature(key, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
