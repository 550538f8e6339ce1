package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ringCapacity bounds the in-memory ring of recent events kept for
// introspection. The ring is memory-only and lost on restart.
const ringCapacity = 1000

// Handler processes one event. Handlers run synchronously in emission order;
// a panicking handler is logged and skipped, so handlers must be idempotent
// (the outbox fingerprint enforces this for delivery).
type Handler func(event *Event)

// Bus is the in-process event dispatcher. Evaluators emit alert events,
// subscribers (outbox enqueuer, work triggers) register per event type at
// startup. Delivery is at-least-once in emission order per subscriber.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	ringMu sync.Mutex
	ring   []Event

	log zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		ring:     make([]Event, 0, ringCapacity),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type.
// Subscriptions happen at startup, before any Emit.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit builds an event from a typed payload and dispatches it.
// Priority is derived from the payload (see PriorityFor).
func (b *Bus) Emit(eventType EventType, source string, data EventData) {
	event := &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Data:      data,
		Priority:  PriorityFor(data),
	}

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("event_id", event.ID).
		Str("source", source).
		Str("priority", string(event.Priority)).
		Msg("Event emitted")

	b.Publish(event)
}

// Publish dispatches an already-built event to its subscribers and records
// it in the introspection ring.
func (b *Bus) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.record(event)

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(event, handler)
	}
}

// dispatch runs one handler with panic isolation so a broken subscriber
// cannot take down an evaluator tick.
func (b *Bus) dispatch(event *Event, handler Handler) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Str("event_id", event.ID).
				Interface("panic", p).
				Msg("Event handler panicked")
		}
	}()
	handler(event)
}

// record appends the event to the bounded ring, evicting the oldest entry
// once the ring is full.
func (b *Bus) record(event *Event) {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	if len(b.ring) >= ringCapacity {
		copy(b.ring, b.ring[1:])
		b.ring[len(b.ring)-1] = *event
		return
	}
	b.ring = append(b.ring, *event)
}

// Recent returns up to limit of the most recent events, newest first.
func (b *Bus) Recent(limit int) []Event {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	if limit <= 0 || limit > len(b.ring) {
		limit = len(b.ring)
	}

	out := make([]Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = b.ring[len(b.ring)-1-i]
	}
	return out
}
