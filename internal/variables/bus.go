package variables

import (
	"slices"
	"sync"
)

// EventType identifies an event on the dashboard bus.
type EventType string

// EventRefresh signals that the host finished re-running panel queries.
const EventRefresh EventType = "refresh"

// Event is published on a Bus.
type Event struct {
	Type EventType
	Seq  int64
}

// Subscriber is the subscription side of a Bus.
type Subscriber interface {
	Subscribe(handler func(Event)) (unsubscribe func())
}

// Bus delivers events synchronously to subscribers in subscription order.
type Bus struct {
	mu       sync.Mutex
	handlers map[int]func(Event)
	nextID   int
	seq      int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]func(Event))}
}

// Subscribe registers handler. Calling the returned function more than
// once is harmless.
func (b *Bus) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
		})
	}
}

// Publish stamps ev with the next sequence number and delivers it.
// Handlers run outside the bus lock so they may publish or unsubscribe.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
