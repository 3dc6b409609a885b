// Package bus provides the host event bus. It is constructed once per
// host process and injected into every component that emits or observes
// host events; nothing in the codebase reaches for a global emitter.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Handler receives an emitted event.
type Handler func(event string, data map[string]interface{})

// Bus is a minimal synchronous pub/sub fan-out. Handlers run on the
// emitting goroutine and must not block.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[string]Handler // event -> id -> handler
	all     map[string]Handler            // id -> handler for every event
	topicOf map[string]string             // id -> event ("" for all)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[string]map[string]Handler),
		all:     make(map[string]Handler),
		topicOf: make(map[string]string),
	}
}

// Subscribe registers a handler for one event and returns a
// subscription id for Unsubscribe.
func (b *Bus) Subscribe(event string, h Handler) string {
	id := uuid.New().String()
	b.mu.Lock()
	if b.subs[event] == nil {
		b.subs[event] = make(map[string]Handler)
	}
	b.subs[event][id] = h
	b.topicOf[id] = event
	b.mu.Unlock()
	return id
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) string {
	id := uuid.New().String()
	b.mu.Lock()
	b.all[id] = h
	b.topicOf[id] = ""
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Returns false if the id is unknown.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	event, ok := b.topicOf[id]
	if !ok {
		return false
	}
	delete(b.topicOf, id)
	if event == "" {
		delete(b.all, id)
		return true
	}
	delete(b.subs[event], id)
	if len(b.subs[event]) == 0 {
		delete(b.subs, event)
	}
	return true
}

// Emit delivers the event to all matching handlers.
func (b *Bus) Emit(event string, data map[string]interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event])+len(b.all))
	for _, h := range b.subs[event] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event, data)
	}
}
