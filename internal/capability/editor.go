package capability

import (
	"fmt"
	"sync"

	"github.com/nebulaide/backend/internal/types"
)

// Selection is a zero-based editor range.
type Selection struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// Edit is a single text replacement applied through the editor.
type Edit struct {
	Range Selection `json:"range"`
	Text  string    `json:"text"`
}

// Decoration marks a range with a style class.
type Decoration struct {
	Range Selection `json:"range"`
	Class string    `json:"class"`
}

// EditorAPI is the abstract surface of the concrete editor widget. The
// widget lives in the browser; the host may run without one attached,
// which is a valid, recoverable state.
type EditorAPI interface {
	GetValue() string
	SetValue(content string)
	GetSelection() Selection
	ExecuteEdits(edits []Edit)
	DeltaDecorations(old []string, decorations []Decoration) []string
}

// Editor provides the editor capability namespace. All methods degrade
// to default-value responses when no editor is attached.
type Editor struct {
	mu          sync.RWMutex
	api         EditorAPI
	decorations map[string][]string // extension id -> decoration ids
}

// NewEditor creates the editor provider. api may be nil.
func NewEditor(api EditorAPI) *Editor {
	return &Editor{
		api:         api,
		decorations: make(map[string][]string),
	}
}

// Attach replaces the live editor reference.
func (e *Editor) Attach(api EditorAPI) {
	e.mu.Lock()
	e.api = api
	e.mu.Unlock()
}

// Definition returns capability metadata.
func (e *Editor) Definition() types.Capability {
	return types.Capability{
		ID:          "editor",
		Name:        "Editor",
		Description: "Read and modify the active editor buffer",
		Methods: []types.Method{
			{ID: "getContent", Description: "Return the full buffer content", Returns: "string"},
			{ID: "setContent", Description: "Replace the full buffer content", Parameters: []types.Parameter{
				{Name: "content", Type: "string", Description: "New buffer content", Required: true},
			}, Returns: "boolean"},
			{ID: "getSelection", Description: "Return the current selection range", Returns: "object"},
			{ID: "insertText", Description: "Insert text at the current selection", Parameters: []types.Parameter{
				{Name: "text", Type: "string", Description: "Text to insert", Required: true},
			}, Returns: "boolean"},
			{ID: "replaceSelection", Description: "Replace the selected range", Parameters: []types.Parameter{
				{Name: "text", Type: "string", Description: "Replacement text", Required: true},
			}, Returns: "boolean"},
			{ID: "format", Description: "Request a format pass over the buffer", Returns: "boolean"},
			{ID: "addDecoration", Description: "Add a range decoration", Parameters: []types.Parameter{
				{Name: "range", Type: "object", Description: "Range to decorate", Required: true},
				{Name: "class", Type: "string", Description: "Style class", Required: false},
			}, Returns: "array"},
			{ID: "removeDecoration", Description: "Remove this extension's decorations", Returns: "boolean"},
		},
	}
}

// Execute runs an editor operation.
func (e *Editor) Execute(method string, params map[string]interface{}, ctx *types.CallContext) (*types.Result, error) {
	e.mu.RLock()
	api := e.api
	e.mu.RUnlock()

	switch method {
	case "getContent":
		if api == nil {
			return Value("")
		}
		return Value(api.GetValue())

	case "setContent":
		content, _ := params["content"].(string)
		if api != nil {
			api.SetValue(content)
		}
		return Value(true)

	case "getSelection":
		sel := Selection{}
		if api != nil {
			sel = api.GetSelection()
		}
		return Value(map[string]interface{}{
			"startLine":   sel.StartLine,
			"startColumn": sel.StartColumn,
			"endLine":     sel.EndLine,
			"endColumn":   sel.EndColumn,
		})

	case "insertText", "replaceSelection":
		text, _ := params["text"].(string)
		if api != nil {
			api.ExecuteEdits([]Edit{{Range: api.GetSelection(), Text: text}})
		}
		return Value(true)

	case "format":
		// Formatting is a host-side editor concern; with no editor
		// attached this is a successful no-op.
		return Value(api != nil)

	case "addDecoration":
		return e.addDecoration(api, params, ctx)

	case "removeDecoration":
		return e.removeDecoration(api, ctx)

	default:
		return Failure(fmt.Sprintf("Unknown method: editor.%s", method))
	}
}

func (e *Editor) addDecoration(api EditorAPI, params map[string]interface{}, ctx *types.CallContext) (*types.Result, error) {
	if api == nil || ctx == nil {
		return Value([]string{})
	}

	dec := Decoration{Class: "nebulaide-decoration"}
	if class, ok := params["class"].(string); ok && class != "" {
		dec.Class = class
	}
	if raw, ok := params["range"].(map[string]interface{}); ok {
		dec.Range = selectionFrom(raw)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ids := api.DeltaDecorations(nil, []Decoration{dec})
	e.decorations[ctx.ExtensionID] = append(e.decorations[ctx.ExtensionID], ids...)
	return Value(ids)
}

func (e *Editor) removeDecoration(api EditorAPI, ctx *types.CallContext) (*types.Result, error) {
	if api == nil || ctx == nil {
		return Value(true)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.decorations[ctx.ExtensionID]
	if len(old) > 0 {
		api.DeltaDecorations(old, nil)
		delete(e.decorations, ctx.ExtensionID)
	}
	return Value(true)
}

func selectionFrom(raw map[string]interface{}) Selection {
	toInt := func(v interface{}) int {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
		return 0
	}
	return Selection{
		StartLine:   toInt(raw["startLine"]),
		StartColumn: toInt(raw["startColumn"]),
		EndLine:     toInt(raw["endLine"]),
		EndColumn:   toInt(raw["endColumn"]),
	}
}
