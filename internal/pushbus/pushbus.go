// Package pushbus is the Push Bus of spec.md §4.H: a fan-out broadcaster
// from internal SCORE/STATUS/SHAME events to subscribed UI clients, each
// with its own bounded queue so one slow reader cannot stall the others —
// adapted from the teacher's pkg/websocket.Hub register/unregister/
// broadcast loop, generalized from raw *websocket.Conn ownership to a
// transport-agnostic subscriber channel.
package pushbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/signalzero/core/internal/metrics"
)

// EventKind distinguishes the three push event types spec.md §4.H defines.
type EventKind string

const (
	EventScore  EventKind = "SCORE"
	EventStatus EventKind = "STATUS"
	EventShame  EventKind = "SHAME"
)

// Event is one push notification, addressed either to a specific analysis
// (SCORE/STATUS) or broadcast to everyone (SHAME).
type Event struct {
	Kind       EventKind
	AnalysisID uuid.UUID
	Payload    any
}

// Handle is a live subscription; Close must be called to release it.
type Handle struct {
	id     uint64
	bus    *Bus
	events chan Event
}

// Events returns the channel events arrive on. The channel is closed when
// Close is called.
func (h *Handle) Events() <-chan Event { return h.events }

func (h *Handle) Close() {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	if _, ok := h.bus.subscribers[h.id]; ok {
		delete(h.bus.subscribers, h.id)
		close(h.events)
		if h.bus.metrics != nil {
			h.bus.metrics.PushSubscribers.Dec()
		}
	}
}

// Bus is the fan-out broadcaster. The zero value is not usable; construct
// with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Handle
	nextID      uint64
	cap         int
	metrics     *metrics.Registry
}

// New builds a Bus whose subscriber queues hold at most subscriberCap
// events before the oldest is dropped to make room for the newest —
// matching the teacher's Hub policy of closing/dropping a client that
// falls behind rather than blocking the broadcaster.
func New(subscriberCap int, reg *metrics.Registry) *Bus {
	if subscriberCap <= 0 {
		subscriberCap = 256
	}
	return &Bus{subscribers: make(map[uint64]*Handle), cap: subscriberCap, metrics: reg}
}

// Subscribe registers a new listener and returns its Handle.
func (b *Bus) Subscribe() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	h := &Handle{id: b.nextID, bus: b, events: make(chan Event, b.cap)}
	b.subscribers[h.id] = h
	if b.metrics != nil {
		b.metrics.PushSubscribers.Inc()
	}
	return h
}

// Broadcast delivers event to every current subscriber. A subscriber whose
// queue is full has its oldest pending event dropped to make room — newest
// data wins, matching the real-time nature of SCORE/STATUS pushes where a
// stale queued event is worthless once a newer one exists.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.subscribers {
		select {
		case h.events <- event:
		default:
			select {
			case <-h.events:
				if b.metrics != nil {
					b.metrics.PushLag.Inc()
				}
			default:
			}
			select {
			case h.events <- event:
			default:
				if b.metrics != nil {
					b.metrics.PushEventsDropped.Inc()
				}
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
