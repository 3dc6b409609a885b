package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/store"
	"github.com/nebulaide/backend/internal/types"
	"github.com/nebulaide/backend/internal/vfs"
)

// fakeEditor records calls for assertions
type fakeEditor struct {
	content   string
	selection Selection
	edits     []Edit
	decorated int
}

func (f *fakeEditor) GetValue() string              { return f.content }
func (f *fakeEditor) SetValue(content string)       { f.content = content }
func (f *fakeEditor) GetSelection() Selection       { return f.selection }
func (f *fakeEditor) ExecuteEdits(edits []Edit)     { f.edits = append(f.edits, edits...) }
func (f *fakeEditor) DeltaDecorations(old []string, decorations []Decoration) []string {
	f.decorated += len(decorations) - len(old)
	ids := make([]string, len(decorations))
	for i := range decorations {
		ids[i] = "dec-1"
	}
	return ids
}

func newTestRegistry(t *testing.T) (*Registry, *bus.Bus, *Prompts) {
	t.Helper()
	events := bus.New()
	prompts := NewPrompts()
	backend, err := store.New(t.TempDir())
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.Register(NewEditor(nil)))
	require.NoError(t, reg.Register(NewTerminal(events)))
	require.NoError(t, reg.Register(NewUI(events, prompts)))
	require.NoError(t, reg.Register(NewFiles(vfs.New(), events)))
	require.NoError(t, reg.Register(NewStorage(backend)))
	return reg, events, prompts
}

func TestUnknownMethod(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	result, err := reg.Execute("editor.destroyEverything", nil, &types.CallContext{ExtensionID: "x"})
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, *result.Error, "Unknown method")

	result, _ = reg.Execute("nosuchns.method", nil, nil)
	assert.False(t, result.Success)

	result, _ = reg.Execute("bareword", nil, nil)
	assert.False(t, result.Success)
}

func TestMethodsForGating(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	granted := reg.MethodsFor([]string{"editor", "files", "unregistered"})
	assert.Len(t, granted, 2)
	assert.Contains(t, granted["editor"], "getContent")
	assert.Contains(t, granted["files"], "read")
	assert.NotContains(t, granted, "storage")
}

func TestEditorDegradesWithoutHost(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := &types.CallContext{ExtensionID: "fmt"}

	// Must never throw due to absence of a host editor
	result, err := reg.Execute("editor.getContent", nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, "", result.Value())

	result, err = reg.Execute("editor.getSelection", nil, ctx)
	require.NoError(t, err)
	sel := result.Value().(map[string]interface{})
	assert.Equal(t, 0, sel["startLine"])

	result, err = reg.Execute("editor.insertText", map[string]interface{}{"text": "x"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, true, result.Value())
}

func TestEditorWithLiveHost(t *testing.T) {
	editor := NewEditor(nil)
	fake := &fakeEditor{content: "hello", selection: Selection{StartLine: 1, EndLine: 1}}
	editor.Attach(fake)
	ctx := &types.CallContext{ExtensionID: "fmt"}

	result, err := editor.Execute("getContent", nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Value())

	_, err = editor.Execute("setContent", map[string]interface{}{"content": "bye"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "bye", fake.content)

	_, err = editor.Execute("insertText", map[string]interface{}{"text": "!"}, ctx)
	require.NoError(t, err)
	require.Len(t, fake.edits, 1)
	assert.Equal(t, "!", fake.edits[0].Text)
	assert.Equal(t, 1, fake.edits[0].Range.StartLine)

	result, err = editor.Execute("addDecoration", map[string]interface{}{
		"range": map[string]interface{}{"startLine": float64(2), "endLine": float64(2)},
		"class": "highlight",
	}, ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dec-1"}, result.Value())

	_, err = editor.Execute("removeDecoration", nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fake.decorated)
}

func TestFilesReadMissingIsNull(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := &types.CallContext{ExtensionID: "fmt"}

	result, err := reg.Execute("files.read", map[string]interface{}{"path": "/missing.txt"}, ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Nil(t, result.Value())
}

func TestFilesWriteReadList(t *testing.T) {
	reg, events, _ := newTestRegistry(t)
	ctx := &types.CallContext{ExtensionID: "fmt"}

	saved := 0
	events.Subscribe("file.saved", func(string, map[string]interface{}) { saved++ })

	_, err := reg.Execute("files.write", map[string]interface{}{"path": "/a.go", "content": "package a"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	result, err := reg.Execute("files.read", map[string]interface{}{"path": "/a.go"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "package a", result.Value())

	result, err = reg.Execute("files.list", map[string]interface{}{"pattern": "**/*.go"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"/a.go"}, result.Value())
}

func TestStorageScopedPerExtension(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Execute("storage.set", map[string]interface{}{"key": "k", "value": "mine"}, &types.CallContext{ExtensionID: "a"})
	require.NoError(t, err)

	result, err := reg.Execute("storage.get", map[string]interface{}{"key": "k"}, &types.CallContext{ExtensionID: "b"})
	require.NoError(t, err)
	assert.Nil(t, result.Value())

	result, err = reg.Execute("storage.get", map[string]interface{}{"key": "k"}, &types.CallContext{ExtensionID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "mine", result.Value())

	// No context at all is an error result, not a panic
	result, _ = reg.Execute("storage.get", map[string]interface{}{"key": "k"}, nil)
	assert.False(t, result.Success)
}

func TestTerminalForwardsToBus(t *testing.T) {
	reg, events, _ := newTestRegistry(t)

	var command string
	events.Subscribe("terminal:execute", func(_ string, data map[string]interface{}) {
		command, _ = data["command"].(string)
	})

	result, err := reg.Execute("terminal.execute", map[string]interface{}{"command": "go test"}, &types.CallContext{ExtensionID: "fmt"})
	require.NoError(t, err)
	assert.Equal(t, true, result.Value())
	assert.Equal(t, "go test", command)
}

func TestQuickPickSettlement(t *testing.T) {
	reg, events, prompts := newTestRegistry(t)

	events.Subscribe("ui:prompt", func(_ string, data map[string]interface{}) {
		id, _ := data["prompt_id"].(string)
		go prompts.Settle(id, "option-b")
	})

	done := make(chan *types.Result, 1)
	go func() {
		result, _ := reg.Execute("ui.showQuickPick", map[string]interface{}{
			"items": []interface{}{"option-a", "option-b"},
		}, &types.CallContext{ExtensionID: "fmt"})
		done <- result
	}()

	select {
	case result := <-done:
		assert.Equal(t, "option-b", result.Value())
	case <-time.After(2 * time.Second):
		t.Fatal("quick pick never settled")
	}
	assert.Equal(t, 0, prompts.Outstanding())
}

func TestInputBoxDismissed(t *testing.T) {
	reg, events, prompts := newTestRegistry(t)

	events.Subscribe("ui:prompt", func(_ string, data map[string]interface{}) {
		id, _ := data["prompt_id"].(string)
		go prompts.Settle(id, nil)
	})

	result, err := reg.Execute("ui.showInputBox", map[string]interface{}{"prompt": "name?"}, &types.CallContext{ExtensionID: "fmt"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Nil(t, result.Value())
}
