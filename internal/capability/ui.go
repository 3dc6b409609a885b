package capability

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/types"
)

// Prompts tracks user-driven prompts awaiting settlement. QuickPick and
// input box calls park here until the host UI answers or dismisses
// them; there is deliberately no internal timeout on these calls.
type Prompts struct {
	mu      sync.Mutex
	pending map[string]chan interface{}
}

// NewPrompts creates an empty prompt table.
func NewPrompts() *Prompts {
	return &Prompts{pending: make(map[string]chan interface{})}
}

// Create registers a prompt and returns its id and settlement channel.
func (p *Prompts) Create() (string, <-chan interface{}) {
	id := uuid.New().String()
	ch := make(chan interface{}, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	return id, ch
}

// Settle resolves a prompt with the user's choice (nil = dismissed).
// Returns false for unknown or already-settled ids.
func (p *Prompts) Settle(id string, value interface{}) bool {
	p.mu.Lock()
	ch, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- value
	return true
}

// CancelAll dismisses every outstanding prompt. Used at host shutdown.
func (p *Prompts) CancelAll() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]chan interface{})
	p.mu.Unlock()
	for _, ch := range pending {
		ch <- nil
	}
}

// Outstanding returns the number of unsettled prompts.
func (p *Prompts) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// UI provides the ui capability namespace.
type UI struct {
	events  *bus.Bus
	prompts *Prompts
}

// NewUI creates the ui provider.
func NewUI(events *bus.Bus, prompts *Prompts) *UI {
	return &UI{events: events, prompts: prompts}
}

// Definition returns capability metadata.
func (u *UI) Definition() types.Capability {
	return types.Capability{
		ID:          "ui",
		Name:        "UI",
		Description: "Notifications and user prompts",
		Methods: []types.Method{
			{ID: "showNotification", Description: "Show a notification toast", Parameters: []types.Parameter{
				{Name: "message", Type: "string", Description: "Notification text", Required: true},
				{Name: "level", Type: "string", Description: "info, warn or error", Required: false},
			}, Returns: "boolean"},
			{ID: "showQuickPick", Description: "Ask the user to pick from a list", Parameters: []types.Parameter{
				{Name: "items", Type: "array", Description: "Choices to present", Required: true},
				{Name: "placeholder", Type: "string", Description: "Prompt placeholder", Required: false},
			}, Returns: "any"},
			{ID: "showInputBox", Description: "Ask the user for a line of text", Parameters: []types.Parameter{
				{Name: "prompt", Type: "string", Description: "Prompt text", Required: false},
				{Name: "placeholder", Type: "string", Description: "Input placeholder", Required: false},
			}, Returns: "any"},
		},
	}
}

// Execute runs a ui operation. showQuickPick and showInputBox block the
// calling goroutine until the host UI settles the prompt.
func (u *UI) Execute(method string, params map[string]interface{}, ctx *types.CallContext) (*types.Result, error) {
	extensionID := ""
	if ctx != nil {
		extensionID = ctx.ExtensionID
	}

	switch method {
	case "showNotification":
		message, _ := params["message"].(string)
		level, _ := params["level"].(string)
		if level == "" {
			level = "info"
		}
		u.events.Emit("ui:notification", map[string]interface{}{
			"extension_id": extensionID,
			"message":      message,
			"level":        level,
		})
		return Value(true)

	case "showQuickPick":
		return u.prompt("quickpick", extensionID, map[string]interface{}{
			"items":       params["items"],
			"placeholder": params["placeholder"],
		})

	case "showInputBox":
		return u.prompt("input", extensionID, map[string]interface{}{
			"prompt":      params["prompt"],
			"placeholder": params["placeholder"],
		})

	default:
		return Failure(fmt.Sprintf("Unknown method: ui.%s", method))
	}
}

func (u *UI) prompt(kind, extensionID string, payload map[string]interface{}) (*types.Result, error) {
	id, ch := u.prompts.Create()
	payload["prompt_id"] = id
	payload["kind"] = kind
	payload["extension_id"] = extensionID
	u.events.Emit("ui:prompt", payload)

	// Blocks until the user answers or dismisses; nil means dismissed.
	value := <-ch
	return Value(value)
}
