package events

// Package events provides a typed publish/subscribe bus for outbound
// authorization events. Subscribers receive events on bounded channels;
// a slow subscriber drops events rather than blocking a publisher.

import (
	"sync"
	"time"
)

// Type identifies the kind of event being published.
type Type string

const (
	GateUpdated       Type = "gate-updated"
	ApprovalRequested Type = "approval-requested"
	ApprovalGranted   Type = "approval-granted"
	ApprovalDenied    Type = "approval-denied"
	ApprovalExpired   Type = "approval-expired"
	ThreatDetected    Type = "threat-detected"
	KillActivated     Type = "kill-activated"
	KillCleared       Type = "kill-cleared"
)

// Event is a single published notification.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Bus fans events out to all current subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	dropped uint64
	closed  bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new subscriber with the given channel buffer size and
// returns the receive channel plus an unsubscribe function. The channel is
// closed on unsubscribe or bus close.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, buffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber. Delivery is non-blocking;
// events to a full subscriber buffer are dropped and counted.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped++
		}
	}
}

// Dropped reports how many events were discarded due to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close shuts the bus down and closes all subscriber channels. Publish calls
// after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
