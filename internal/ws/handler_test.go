package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/capability"
	"github.com/nebulaide/backend/internal/logging"
	"github.com/nebulaide/backend/internal/sandbox"
)

func dial(t *testing.T, events *bus.Bus, prompts *capability.Prompts) (*websocket.Conn, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handler := NewHandler(events, prompts, &logging.Logger{Logger: zap.NewNop()}, nil)
	router := gin.New()
	router.GET("/ws", handler.HandleConnection)

	server := httptest.NewServer(router)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	// Welcome frame confirms the subscription is live.
	var welcome Message
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "system", welcome.Type)

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestPingPong(t *testing.T) {
	conn, cleanup := dial(t, bus.New(), capability.NewPrompts())
	defer cleanup()

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestHostEventsForwarded(t *testing.T) {
	events := bus.New()
	conn, cleanup := dial(t, events, capability.NewPrompts())
	defer cleanup()

	events.Emit("extension:activated", map[string]interface{}{"extension_id": "fmt"})

	msg := readFrame(t, conn)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "extension:activated", msg.Event)
	assert.Equal(t, "fmt", msg.Data["extension_id"])
}

func TestInternalTopicsNotForwarded(t *testing.T) {
	events := bus.New()
	conn, cleanup := dial(t, events, capability.NewPrompts())
	defer cleanup()

	// Editor events flow host->sandbox, not back out to the UI.
	events.Emit(sandbox.EventFileSaved, map[string]interface{}{"path": "/a.go"})
	events.Emit("ui:notification", map[string]interface{}{"message": "hi"})

	msg := readFrame(t, conn)
	assert.Equal(t, "ui:notification", msg.Event)
}

func TestEditorEventInjected(t *testing.T) {
	events := bus.New()

	received := make(chan map[string]interface{}, 1)
	events.Subscribe(sandbox.EventFileOpened, func(_ string, data map[string]interface{}) {
		received <- data
	})

	conn, cleanup := dial(t, events, capability.NewPrompts())
	defer cleanup()

	require.NoError(t, conn.WriteJSON(Message{
		Type:  "editor_event",
		Event: sandbox.EventFileOpened,
		Data:  map[string]interface{}{"path": "/main.go"},
	}))

	select {
	case data := <-received:
		assert.Equal(t, "/main.go", data["path"])
	case <-time.After(2 * time.Second):
		t.Fatal("editor event never reached the bus")
	}
}

func TestArbitraryEventRejected(t *testing.T) {
	events := bus.New()

	received := make(chan struct{}, 1)
	events.Subscribe("extension:activated", func(string, map[string]interface{}) {
		received <- struct{}{}
	})

	conn, cleanup := dial(t, events, capability.NewPrompts())
	defer cleanup()

	// The UI must not be able to forge host lifecycle events.
	require.NoError(t, conn.WriteJSON(Message{
		Type:  "editor_event",
		Event: "extension:activated",
	}))

	select {
	case <-received:
		t.Fatal("forged event reached the bus")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestUIResponseSettlesPrompt(t *testing.T) {
	events := bus.New()
	prompts := capability.NewPrompts()
	conn, cleanup := dial(t, events, prompts)
	defer cleanup()

	id, ch := prompts.Create()
	require.NoError(t, conn.WriteJSON(Message{
		Type:     "ui_response",
		PromptID: id,
		Value:    "picked-option",
	}))

	select {
	case value := <-ch:
		assert.Equal(t, "picked-option", value)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never settled")
	}
	assert.Zero(t, prompts.Outstanding())
}

func TestUnknownMessageType(t *testing.T) {
	conn, cleanup := dial(t, bus.New(), capability.NewPrompts())
	defer cleanup()

	require.NoError(t, conn.WriteJSON(Message{Type: "teleport"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Data["message"], "unknown message type")
}
