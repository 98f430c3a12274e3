package bus

import (
	"log/slog"
	"sync"
)

// MessageBus is the in-process event hub. Delivery is synchronous, best-effort
// and at most once per subscriber; nothing is buffered for late subscribers.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates an empty MessageBus.
func New() *MessageBus {
	return &MessageBus{handlers: make(map[string]EventHandler)}
}

// Subscribe registers handler under id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	b.handlers[id] = handler
	b.mu.Unlock()
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// Broadcast delivers event to every current subscriber. A panicking handler
// is logged and does not affect the others.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	snapshot := make(map[string]EventHandler, len(b.handlers))
	for id, h := range b.handlers {
		snapshot[id] = h
	}
	b.mu.RUnlock()

	for id, h := range snapshot {
		deliver(id, h, event)
	}
}

// Subscribers returns the number of registered handlers.
func (b *MessageBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func deliver(id string, h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus.handler_panic", "subscriber", id, "event", event.Name, "panic", r)
		}
	}()
	h(event)
}
