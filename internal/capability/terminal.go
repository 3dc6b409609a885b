package capability

import (
	"fmt"

	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/types"
)

// Terminal provides the terminal capability namespace. Commands are
// forwarded to the host event bus fire-and-forget; actual process
// execution happens outside this system.
type Terminal struct {
	events *bus.Bus
}

// NewTerminal creates the terminal provider.
func NewTerminal(events *bus.Bus) *Terminal {
	return &Terminal{events: events}
}

// Definition returns capability metadata.
func (t *Terminal) Definition() types.Capability {
	return types.Capability{
		ID:          "terminal",
		Name:        "Terminal",
		Description: "Forward commands and text to the host terminal",
		Methods: []types.Method{
			{ID: "execute", Description: "Run a command in the host terminal", Parameters: []types.Parameter{
				{Name: "command", Type: "string", Description: "Command line to run", Required: true},
			}, Returns: "boolean"},
			{ID: "write", Description: "Write raw text to the host terminal", Parameters: []types.Parameter{
				{Name: "text", Type: "string", Description: "Text to write", Required: true},
			}, Returns: "boolean"},
		},
	}
}

// Execute runs a terminal operation.
func (t *Terminal) Execute(method string, params map[string]interface{}, ctx *types.CallContext) (*types.Result, error) {
	extensionID := ""
	if ctx != nil {
		extensionID = ctx.ExtensionID
	}

	switch method {
	case "execute":
		command, _ := params["command"].(string)
		t.events.Emit("terminal:execute", map[string]interface{}{
			"extension_id": extensionID,
			"command":      command,
		})
		return Value(true)

	case "write":
		text, _ := params["text"].(string)
		t.events.Emit("terminal:write", map[string]interface{}{
			"extension_id": extensionID,
			"text":         text,
		})
		return Value(true)

	default:
		return Failure(fmt.Sprintf("Unknown method: terminal.%s", method))
	}
}
