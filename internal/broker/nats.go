package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/metrics"
)

// natsBroker is the production Broker, wrapping github.com/nats-io/nats.go.
// Connection-event handling and reconnect/backoff configuration follow the
// teacher's pkg/nats.Client almost verbatim. The outbound rate limiter
// follows the broadcastLimiter in the pack's resource_guard.go: a static
// token bucket rather than an auto-calculated one.
type natsBroker struct {
	conn    *natsgo.Conn
	metrics *metrics.Registry
	logger  zerolog.Logger

	outboundCap  int64
	bufferedSeen int64 // atomic: messages accepted while disconnected since last reconnect
	publishLimit *rate.Limiter

	healthGrace     time.Duration
	disconnectedAt  atomic.Value // time.Time
}

// NewNATS connects to the configured broker URL and returns a Broker.
// Between reconnect attempts the client waits cfg.ReconnectWait() plus a
// random jitter of up to cfg.ReconnectJitterDur(); the wait does not grow
// with repeated failures and has no separate cap.
func NewNATS(cfg config.BrokerConfig, reg *metrics.Registry, logger zerolog.Logger) (Broker, error) {
	limit := rate.Limit(cfg.PublishRateLimit)
	burst := int(cfg.PublishRateLimit) + 1
	if cfg.PublishRateLimit <= 0 {
		limit = rate.Inf
		burst = 0
	}

	b := &natsBroker{
		metrics:      reg,
		logger:       logger,
		outboundCap:  int64(cfg.OutboundCap),
		healthGrace:  cfg.HealthGrace(),
		publishLimit: rate.NewLimiter(limit, burst),
	}
	b.disconnectedAt.Store(time.Time{})

	opts := []natsgo.Option{
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait()),
		natsgo.ReconnectJitter(cfg.ReconnectJitterDur(), cfg.ReconnectJitterDur()),
		natsgo.ConnectHandler(b.connectHandler),
		natsgo.DisconnectErrHandler(b.disconnectHandler),
		natsgo.ReconnectHandler(b.reconnectHandler),
		natsgo.ErrorHandler(b.errorHandler),
	}

	conn, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	b.conn = conn
	if reg != nil {
		reg.BrokerConnected.Set(1)
	}
	return b, nil
}

func (b *natsBroker) connectHandler(conn *natsgo.Conn) {
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("broker connected")
	if b.metrics != nil {
		b.metrics.BrokerConnected.Set(1)
	}
}

func (b *natsBroker) disconnectHandler(conn *natsgo.Conn, err error) {
	b.disconnectedAt.Store(time.Now())
	if err != nil {
		b.logger.Warn().Err(err).Msg("broker disconnected")
	}
	if b.metrics != nil {
		b.metrics.BrokerConnected.Set(0)
	}
}

func (b *natsBroker) reconnectHandler(conn *natsgo.Conn) {
	b.disconnectedAt.Store(time.Time{})
	atomic.StoreInt64(&b.bufferedSeen, 0)
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("broker reconnected")
	if b.metrics != nil {
		b.metrics.BrokerConnected.Set(1)
		b.metrics.BrokerReconnects.Inc()
	}
}

func (b *natsBroker) errorHandler(conn *natsgo.Conn, sub *natsgo.Subscription, err error) {
	b.logger.Error().Err(err).Msg("broker error")
}

// Publish is at-least-once (NATS core delivery plus our own buffering
// guard). When disconnected, up to outboundCap messages are allowed to
// queue inside the client; once that cap is reached, newest publishes fail
// fast with ErrBrokerBackpressure rather than blocking the caller.
func (b *natsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.metrics != nil {
		b.metrics.BrokerPublishTotal.WithLabelValues(topic).Inc()
	}

	if !b.publishLimit.Allow() {
		if b.metrics != nil {
			b.metrics.BrokerPublishErrors.WithLabelValues(topic).Inc()
		}
		return fmt.Errorf("%w: publish rate limit exceeded for %s", domain.ErrBrokerBackpressure, topic)
	}

	if !b.conn.IsConnected() {
		n := atomic.AddInt64(&b.bufferedSeen, 1)
		if n > b.outboundCap {
			atomic.AddInt64(&b.bufferedSeen, -1)
			if b.metrics != nil {
				b.metrics.BrokerPublishErrors.WithLabelValues(topic).Inc()
			}
			return fmt.Errorf("%w: outbound buffer full for %s", domain.ErrBrokerBackpressure, topic)
		}
	}

	if err := b.conn.Publish(topic, payload); err != nil {
		if b.metrics != nil {
			b.metrics.BrokerPublishErrors.WithLabelValues(topic).Inc()
		}
		return fmt.Errorf("%w: %v", domain.ErrBrokerBackpressure, err)
	}
	return nil
}

type natsSubscription struct{ sub *natsgo.Subscription }

func (s *natsSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }

func (b *natsBroker) Subscribe(topicPattern string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(topicPattern, func(msg *natsgo.Msg) {
		if b.metrics != nil {
			b.metrics.BrokerMessagesIn.WithLabelValues(msg.Subject).Inc()
		}
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topicPattern, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *natsBroker) IsConnected() bool {
	if b.conn == nil {
		return false
	}
	return b.conn.IsConnected()
}

// UnhealthyFor reports whether the broker has been continuously
// disconnected for at least d — used by the Orchestrator to decide between
// FAILED(no-agents) and an all-imputed COMPLETE at deadline (spec.md §4.F).
func (b *natsBroker) UnhealthyFor(d time.Duration) bool {
	since, _ := b.disconnectedAt.Load().(time.Time)
	if since.IsZero() {
		return false
	}
	return time.Since(since) >= d
}

func (b *natsBroker) Close() error {
	b.conn.Close()
	if b.metrics != nil {
		b.metrics.BrokerConnected.Set(0)
	}
	return nil
}
