package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nebulaide/backend/internal/bridge"
	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/capability"
	"github.com/nebulaide/backend/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Message is the JSON frame exchanged with the editor UI.
type Message struct {
	Type     string                 `json:"type"`
	Event    string                 `json:"event,omitempty"`
	PromptID string                 `json:"prompt_id,omitempty"`
	Value    interface{}            `json:"value,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Metrics is the subset of monitoring hooks the handler reports to.
type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSMessage(direction, msgType string)
}

// Handler manages WebSocket connections to the editor UI. Outbound
// traffic is the host event stream (extension lifecycle, ui prompts,
// terminal requests); inbound traffic is editor events and prompt
// responses.
type Handler struct {
	events  *bus.Bus
	prompts *capability.Prompts
	log     *logging.Logger
	metrics Metrics
}

// NewHandler creates a new WebSocket handler.
func NewHandler(events *bus.Bus, prompts *capability.Prompts, log *logging.Logger, metrics Metrics) *Handler {
	if log == nil {
		log = logging.NewDefault()
	}
	return &Handler{
		events:  events,
		prompts: prompts,
		log:     log,
		metrics: metrics,
	}
}

// forwardable reports whether a bus topic belongs on the UI stream.
func forwardable(topic string) bool {
	return strings.HasPrefix(topic, "extension:") ||
		strings.HasPrefix(topic, "ui:") ||
		strings.HasPrefix(topic, "terminal:")
}

// editorEvent reports whether the UI may inject this event into the
// host bus. The set mirrors what the bridge forwards to sandboxes.
func editorEvent(event string) bool {
	for _, e := range bridge.ForwardedEvents {
		if e == event {
			return true
		}
	}
	return false
}

// HandleConnection handles WebSocket upgrade and messages.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	// Outbound frames are queued; gorilla connections do not allow
	// concurrent writers. Slow clients drop events rather than block
	// the bus. The channel is never closed: a bus emit already in
	// flight may still deliver after unsubscribe.
	outbound := make(chan Message, 256)
	quit := make(chan struct{})
	defer close(quit)

	sub := h.events.SubscribeAll(func(event string, data map[string]interface{}) {
		if !forwardable(event) {
			return
		}
		select {
		case outbound <- Message{Type: "event", Event: event, Data: data}:
		default:
		}
	})
	defer h.events.Unsubscribe(sub)

	go func() {
		for {
			select {
			case msg := <-outbound:
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
				if h.metrics != nil {
					h.metrics.RecordWSMessage("out", msg.Type)
				}
			case <-quit:
				return
			}
		}
	}()

	// Welcome frame
	outbound <- Message{Type: "system", Data: map[string]interface{}{
		"message": "Connected to NebulaIDE Extension Host",
	}}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "ping":
			select {
			case outbound <- Message{Type: "pong"}:
			default:
			}

		case "ui_response":
			// Settle on its own goroutine; the prompt channel handoff
			// can block until the capability call picks it up.
			go h.prompts.Settle(msg.PromptID, msg.Value)

		case "editor_event":
			if !editorEvent(msg.Event) {
				h.log.Warn("rejected editor event", zap.String("event", msg.Event))
				continue
			}
			h.events.Emit(msg.Event, msg.Data)

		default:
			select {
			case outbound <- Message{Type: "error", Data: map[string]interface{}{
				"message": "unknown message type: " + msg.Type,
			}}:
			default:
			}
		}
	}
}
