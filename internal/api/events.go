package api

import (
	"sync"

	"iap-reconciler/pkg/logging"
)

// SSE event names.
const (
	EventProducts           = "products"
	EventPurchase           = "purchase"
	EventAlternativeBilling = "alternative_billing"
	EventError              = "error"
	EventFulfillment        = "fulfillment"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data interface{}
}

// EventHub fans session events out to the connected SSE streams. A slow
// stream loses events rather than blocking the session.
type EventHub struct {
	buffer int

	mu          sync.Mutex
	nextID      uint64
	subscribers map[uint64]chan Event
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 16
	}
	return &EventHub{
		buffer:      buffer,
		subscribers: make(map[uint64]chan Event),
	}
}

// Subscribe returns a stream of events and the function that ends it.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *EventHub) Publish(name string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- Event{Name: name, Data: data}:
		default:
			logging.Warnf("Event stream %d is full, dropped %s event", id, name)
		}
	}
}

// Subscribers returns the number of connected streams.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
