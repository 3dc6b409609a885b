// Package server wires the extension host together: capability
// providers, sandbox runtime registry, event bridge, HTTP REST surface
// and the WebSocket event stream.
package server
