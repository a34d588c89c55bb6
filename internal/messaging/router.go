// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/logging"
)

// AlertTopics are the audit topics consumed by AlertRouter.
var AlertTopics = []string{
	audit.TopicCritical,
	audit.TopicWriteFailed,
	audit.TopicIntegrityFailure,
}

// RouterConfig tunes AlertRouter.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// PoisonTopic receives alerts that failed every retry. Empty disables it.
	PoisonTopic string
}

// DefaultRouterConfig returns production retry settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
		PoisonTopic:          "audit.alerts.poison",
	}
}

// AlertRouter consumes audit alert topics and delivers each message through a
// Notifier.
type AlertRouter struct {
	router   *message.Router
	notifier Notifier
	logger   watermill.LoggerAdapter
}

// NewAlertRouter builds the Watermill router with Recoverer, Retry and
// PoisonQueue middleware and registers one handler per alert topic.
func NewAlertRouter(cfg RouterConfig, sub message.Subscriber, pub message.Publisher, notifier Notifier, logger watermill.LoggerAdapter) (*AlertRouter, error) {
	if sub == nil || notifier == nil {
		return nil, errors.New("alert router requires a subscriber and a notifier")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	r := &AlertRouter{router: router, notifier: notifier, logger: logger}

	router.AddMiddleware(middleware.Recoverer)

	if pub != nil && cfg.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(pub, cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poison)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	for _, topic := range AlertTopics {
		router.AddConsumerHandler("alert_"+topic, topic, sub, r.handle)
	}

	return r, nil
}

func (r *AlertRouter) handle(msg *message.Message) error {
	ctx := msg.Context()
	alert, err := decodeAlert(msg)
	if err != nil {
		// A payload that cannot be decoded will never succeed.
		logging.CtxErr(ctx, err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable alert")
		return nil
	}

	err = r.notifier.Notify(ctx, alert)
	if errors.Is(err, ErrThrottled) {
		logging.Ctx(ctx).Warn().
			Str("topic", alert.Topic).
			Str("record_id", alert.RecordID).
			Msg("Alert delivery throttled")
		return nil
	}
	return err
}

func decodeAlert(msg *message.Message) (*Alert, error) {
	topic := message.SubscribeTopicFromCtx(msg.Context())
	if !json.Valid(msg.Payload) {
		return nil, fmt.Errorf("alert payload on %s is not JSON", topic)
	}
	return &Alert{
		Topic:      topic,
		RecordID:   msg.Metadata.Get("record_id"),
		Action:     msg.Metadata.Get("action"),
		EntityType: msg.Metadata.Get("entity_type"),
		Cause:      msg.Metadata.Get("cause"),
		Record:     json.RawMessage(msg.Payload),
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// Run blocks until ctx is canceled or the router fails.
func (r *AlertRouter) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (r *AlertRouter) Running() chan struct{} {
	return r.router.Running()
}

// Close stops the router and waits for in-flight handlers.
func (r *AlertRouter) Close() error {
	return r.router.Close()
}

// Serve implements suture.Service.
func (r *AlertRouter) Serve(ctx context.Context) error {
	err := r.router.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *AlertRouter) String() string {
	return "alert-router"
}
