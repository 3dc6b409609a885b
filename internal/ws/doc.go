// Package ws streams the host event feed to the editor UI over
// WebSocket and accepts editor events and prompt responses back. One
// goroutine per connection writes queued frames; slow clients lose
// events instead of stalling the bus.
package ws
