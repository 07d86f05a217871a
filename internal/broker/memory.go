package broker

import (
	"context"
	"strings"
	"sync"
)

// memorySubscriber holds one Subscribe call's pattern and handler.
type memorySubscriber struct {
	id      uint64
	pattern []string
	handler Handler
}

// memoryBroker is an in-process Broker fake used by tests and by the
// binary when the broker URL is "memory", grounded on zJUNAIDz's pub-sub/final broker: topics
// are split on "/" and matched segment-by-segment against a single `+`
// wildcard, with no persistence and synchronous delivery.
type memoryBroker struct {
	mu        sync.RWMutex
	subs      map[uint64]*memorySubscriber
	nextID    uint64
	connected bool
}

// NewMemory returns a connected in-memory Broker.
func NewMemory() Broker {
	return &memoryBroker{subs: make(map[uint64]*memorySubscriber), connected: true}
}

func (b *memoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	parts := strings.Split(topic, "/")

	b.mu.RLock()
	matched := make([]*memorySubscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if matchPattern(s.pattern, parts) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		s.handler(topic, payload)
	}
	return nil
}

type memorySubscription struct {
	broker *memoryBroker
	id     uint64
}

func (s *memorySubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s.id)
	s.broker.mu.Unlock()
	return nil
}

func (b *memoryBroker) Subscribe(topicPattern string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = &memorySubscriber{
		id:      id,
		pattern: strings.Split(topicPattern, "/"),
		handler: handler,
	}
	b.mu.Unlock()
	return &memorySubscription{broker: b, id: id}, nil
}

func (b *memoryBroker) IsConnected() bool { return b.connected }

func (b *memoryBroker) Close() error {
	b.mu.Lock()
	b.connected = false
	b.subs = make(map[uint64]*memorySubscriber)
	b.mu.Unlock()
	return nil
}

// matchPattern matches a split subject against a split pattern where each
// pattern segment is either a literal or the single-segment wildcard "+".
func matchPattern(pattern, subject []string) bool {
	if len(pattern) != len(subject) {
		return false
	}
	for i, p := range pattern {
		if p == "+" {
			continue
		}
		if p != subject[i] {
			return false
		}
	}
	return true
}
