// Package bridge forwards host events from the bus into the extension
// runtimes. It is the only path by which editor and workspace activity
// reaches sandboxed code.
package bridge

import (
	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/sandbox"
)

// Broadcaster receives forwarded host events. Implemented by the
// runtime registry manager.
type Broadcaster interface {
	Broadcast(event string, data map[string]interface{})
}

// ForwardedEvents lists the host events delivered into sandboxes. The
// set is closed; bus traffic outside it (ui:*, terminal:*, extension:*)
// stays host-side.
var ForwardedEvents = []string{
	sandbox.EventTextChanged,
	sandbox.EventSelectionChanged,
	sandbox.EventFileOpened,
	sandbox.EventFileSaved,
	sandbox.EventFileClosed,
}

// Bridge couples a bus to a broadcaster for the forwarded event set.
type Bridge struct {
	events *bus.Bus
	target Broadcaster
	subs   []string
}

// New creates an unstarted bridge.
func New(events *bus.Bus, target Broadcaster) *Bridge {
	return &Bridge{events: events, target: target}
}

// Start subscribes to the forwarded events. Calling Start twice stacks
// subscriptions; pair every Start with a Stop.
func (b *Bridge) Start() {
	for _, event := range ForwardedEvents {
		id := b.events.Subscribe(event, func(event string, data map[string]interface{}) {
			b.target.Broadcast(event, data)
		})
		b.subs = append(b.subs, id)
	}
}

// Stop removes the bridge's subscriptions.
func (b *Bridge) Stop() {
	for _, id := range b.subs {
		b.events.Unsubscribe(id)
	}
	b.subs = nil
}
