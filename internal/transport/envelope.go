// Package transport defines the message envelopes exchanged between the
// host runtime and a sandboxed execution context, plus the in-process
// channel pair that carries them. One pipe exists per runtime; envelopes
// on a pipe are delivered in the order sent. No ordering is guaranteed
// across pipes.
package transport

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Kind enumerates every envelope type. The set is closed: anything else
// is rejected at decode time.
type Kind string

const (
	KindActivate       Kind = "activate"
	KindActivated      Kind = "activated"
	KindAPICall        Kind = "api-call"
	KindAPIResponse    Kind = "api-response"
	KindEvent          Kind = "event"
	KindExecuteCommand Kind = "execute-command"
	KindLog            Kind = "log"
	KindError          Kind = "error"
	KindDeactivate     Kind = "deactivate"
)

var kinds = map[Kind]bool{
	KindActivate:       true,
	KindActivated:      true,
	KindAPICall:        true,
	KindAPIResponse:    true,
	KindEvent:          true,
	KindExecuteCommand: true,
	KindLog:            true,
	KindError:          true,
	KindDeactivate:     true,
}

// Envelope is one discrete message unit. Field usage by kind:
//
//	activate         Data carries the manifest and source
//	activated        no payload
//	api-call         CallID, Method ("namespace.method"), Data payload
//	api-response     CallID, Result or Error
//	event            Event name, Data payload
//	execute-command  Method (command id), Data["args"]
//	log              Data{"level","message"}
//	error            Error string, Data{"fatal","phase"}
//	deactivate       no payload
type Envelope struct {
	Type   Kind                   `json:"type"`
	CallID int64                  `json:"callId,omitempty"`
	Method string                 `json:"method,omitempty"`
	Event  string                 `json:"event,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Result interface{}            `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Validate checks that the envelope kind is a member of the closed set.
func (e *Envelope) Validate() error {
	if !kinds[e.Type] {
		return fmt.Errorf("transport: unknown envelope kind %q", e.Type)
	}
	return nil
}

// Fatal reports whether an error envelope describes a fatal runtime
// failure (crash or timeout) rather than a contained handler error.
func (e *Envelope) Fatal() bool {
	if e.Type != KindError || e.Data == nil {
		return false
	}
	fatal, _ := e.Data["fatal"].(bool)
	return fatal
}

// Encode serializes the envelope for delivery across a real wire
// (e.g. the WebSocket stream to the editor UI).
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return sonic.Marshal(e)
}

// Decode parses and validates a serialized envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := sonic.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("transport: malformed envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
