package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(Event{Type: ApprovalRequested, Data: map[string]any{"request_id": "r1"}})

	select {
	case ev := <-ch:
		assert.Equal(t, ApprovalRequested, ev.Type)
		assert.Equal(t, "r1", ev.Data["request_id"])
		assert.False(t, ev.Timestamp.IsZero(), "timestamp should be stamped")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Type: GateUpdated})
	b.Publish(Event{Type: GateUpdated})
	b.Publish(Event{Type: GateUpdated})

	assert.Equal(t, uint64(2), b.Dropped())
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	cancel()

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")

	// Publishing after unsubscribe must not panic or count drops.
	b.Publish(Event{Type: KillActivated})
	assert.Equal(t, uint64(0), b.Dropped())
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe(1)

	b.Close()
	b.Close()

	_, open := <-ch
	require.False(t, open)

	// Subscribing after close yields an already-closed channel.
	ch2, cancel2 := b.Subscribe(1)
	cancel2()
	_, open = <-ch2
	assert.False(t, open)
}
