// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tradeaudit/internal/breaker"
	"github.com/tomtom215/tradeaudit/internal/config"
)

// Transport names accepted in config.MessagingConfig.Transport.
const (
	TransportGoChannel = "gochannel"
	TransportNATS      = "nats"
)

// Stream settings for the NATS transport.
const (
	AlertStreamName    = "AUDIT_ALERTS"
	alertStreamSubject = "audit.>"
	alertStreamMaxAge  = 30 * 24 * time.Hour
	durablePrefix      = "tradeaudit"
)

// ErrUnknownTransport is returned for an unsupported transport name.
var ErrUnknownTransport = errors.New("unknown messaging transport")

// Transport bundles the publisher and subscriber for alert topics together
// with whatever has to be torn down when they close.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	kind   string
	server *EmbeddedServer
	nc     *natsgo.Conn

	closeOnce sync.Once
	closeErr  error
}

// NewTransport builds the configured transport. For NATS it starts the
// embedded server when requested and ensures the alert stream exists before
// returning.
func NewTransport(ctx context.Context, cfg config.MessagingConfig, bs breaker.Settings, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	switch cfg.Transport {
	case "", TransportGoChannel:
		pubSub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          false,
		}, logger)
		return &Transport{
			Publisher:  newBreakerPublisher(pubSub, bs),
			Subscriber: pubSub,
			kind:       TransportGoChannel,
		}, nil
	case TransportNATS:
		return newNATSTransport(ctx, cfg, bs, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}

func newNATSTransport(ctx context.Context, cfg config.MessagingConfig, bs breaker.Settings, logger watermill.LoggerAdapter) (*Transport, error) {
	t := &Transport{kind: TransportNATS}

	natsURL := cfg.NATSURL
	if cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(cfg.NATSURL, cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		t.server = srv
		natsURL = srv.ClientURL()
	}

	nc, err := natsgo.Connect(natsURL, connectOptions(logger)...)
	if err != nil {
		_ = t.Close(ctx)
		return nil, fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}
	t.nc = nc

	if err := ensureAlertStream(ctx, nc); err != nil {
		_ = t.Close(ctx)
		return nil, err
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         natsURL,
		NatsOptions: connectOptions(logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		_ = t.Close(ctx)
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	t.Publisher = newBreakerPublisher(pub, bs)

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              natsURL,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      connectOptions(logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(AlertStreamName),
				natsgo.DeliverAll(),
				natsgo.AckExplicit(),
			},
			DurablePrefix:     durablePrefix,
			DurableCalculator: durableName,
		},
	}, logger)
	if err != nil {
		_ = t.Publisher.Close()
		_ = t.Close(ctx)
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	t.Subscriber = sub

	return t, nil
}

// durableName maps a topic to a JetStream consumer name. Consumer names may
// not contain dots.
func durableName(prefix, topic string) string {
	return prefix + "_" + strings.ReplaceAll(topic, ".", "_")
}

func connectOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("tradeaudit"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// ensureAlertStream creates the alert stream or updates it in place. It is
// idempotent.
func ensureAlertStream(ctx context.Context, nc *natsgo.Conn) error {
	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       AlertStreamName,
		Subjects:   []string{alertStreamSubject},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     alertStreamMaxAge,
		Discard:    jetstream.DiscardOld,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", AlertStreamName, err)
	}
	return nil
}

// Kind reports the transport in use.
func (t *Transport) Kind() string {
	return t.kind
}

// Close closes the publisher, the subscriber, the NATS connection and the
// embedded server, in that order. It is idempotent.
func (t *Transport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		var errs []error
		if t.Publisher != nil {
			errs = append(errs, t.Publisher.Close())
		}
		if t.Subscriber != nil && t.kind != TransportGoChannel {
			errs = append(errs, t.Subscriber.Close())
		}
		if t.nc != nil {
			t.nc.Close()
		}
		if t.server != nil {
			errs = append(errs, t.server.Shutdown(ctx))
		}
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}

// breakerPublisher fails fast while the broker is unreachable.
type breakerPublisher struct {
	next message.Publisher
	cb   *gobreaker.CircuitBreaker[any]
}

func newBreakerPublisher(next message.Publisher, bs breaker.Settings) *breakerPublisher {
	return &breakerPublisher{next: next, cb: breaker.New("alert_publisher", bs)}
}

func (p *breakerPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
			msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
		}
	}
	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.next.Publish(topic, msgs...)
	})
	return err
}

func (p *breakerPublisher) Close() error {
	return p.next.Close()
}
