package pushbus

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesBroadcast(t *testing.T) {
	b := New(4, nil)
	h := b.Subscribe()
	defer h.Close()

	id := uuid.New()
	b.Broadcast(Event{Kind: EventStatus, AnalysisID: id, Payload: "PROCESSING"})

	select {
	case ev := <-h.Events():
		assert.Equal(t, EventStatus, ev.Kind)
		assert.Equal(t, id, ev.AnalysisID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcastDropsOldestWhenSubscriberFull(t *testing.T) {
	b := New(2, nil)
	h := b.Subscribe()
	defer h.Close()

	for i := 0; i < 5; i++ {
		b.Broadcast(Event{Kind: EventScore, Payload: i})
	}

	// The channel holds at most 2; the newest broadcasts should win.
	var last any
	for {
		select {
		case ev := <-h.Events():
			last = ev.Payload
			continue
		default:
		}
		break
	}
	assert.Equal(t, 4, last)
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New(4, nil)
	h := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	h.Close()
	assert.Equal(t, 0, b.Subscribers())

	_, ok := <-h.Events()
	assert.False(t, ok)
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := New(4, nil)
	h1 := b.Subscribe()
	h2 := b.Subscribe()
	defer h1.Close()
	defer h2.Close()

	require.Equal(t, 2, b.Subscribers())
	b.Broadcast(Event{Kind: EventShame})

	for _, h := range []*Handle{h1, h2} {
		select {
		case ev := <-h.Events():
			assert.Equal(t, EventShame, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}
