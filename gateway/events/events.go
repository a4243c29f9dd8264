// Package events is a small in-process pub/sub bus for gateway
// lifecycle events. Publishing never blocks the pipeline; slow
// subscribers lose events.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the gateway.
const (
	TypePairingRequest  = "pairing_request"
	TypePairingApproved = "pairing_approved"
	TypePauseUpdate     = "pause_update"
	TypeRateLimit       = "rate_limit"
	TypeMessageReceived = "message_received"
	TypeMessageStatus   = "message_status"
	TypeMetricsUpdate   = "metrics_update"
)

// Event is a uniform envelope. Payload holds the relevant entity ids.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers an event to all subscribers without blocking. Events
// to a full subscriber are dropped.
func (b *Bus) Publish(eventType string, payload map[string]any) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("event subscriber full, dropping event", "type", eventType)
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
