// Package broker defines the Broker Client contract of spec.md §4.B:
// publish/subscribe over named topics with at-least-once delivery,
// automatic reconnection, and bounded outbound buffering.
package broker

import "context"

// Handler processes one inbound message's raw payload. Handlers run on a
// broker-owned worker pool and must not block longer than the configured
// handler budget (spec.md §4.B); longer work must be handed off by the
// caller to its own worker pool.
type Handler func(topic string, payload []byte)

// Broker is the publish/subscribe/close contract every component depends
// on. The NATS-backed implementation (natsbroker) and the in-memory fake
// (memorybroker) both satisfy it, so the Orchestrator and Response Handler
// never import a transport package directly.
type Broker interface {
	// Publish sends payload on topic. It is at-least-once: the caller may
	// observe duplicate delivery of the same message and must be prepared
	// to deduplicate (the Response Handler does this via upsertAgentResult
	// idempotence). A refused publish returns an error wrapping
	// domain.ErrBrokerBackpressure (the NATS implementation refuses when the
	// outbound buffer is full while disconnected or the publish rate limit is
	// exceeded).
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topicPattern. topicPattern may use a
	// single `+` wildcard segment, matching the broker's own pattern
	// grammar (NATS subject wildcards for the NATS implementation).
	Subscribe(topicPattern string, handler Handler) (Subscription, error)

	// IsConnected reports current connectivity. Used by the Orchestrator
	// to decide between FAILED(no-agents) and an all-imputed COMPLETE when
	// a deadline fires with zero responses (spec.md §4.F).
	IsConnected() bool

	// Close unsubscribes everything and closes the underlying connection.
	Close() error
}

// Subscription is a handle to an active subscription, returned so callers
// can unsubscribe without the broker tracking per-caller state.
type Subscription interface {
	Unsubscribe() error
}
