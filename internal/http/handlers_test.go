package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/capability"
	"github.com/nebulaide/backend/internal/logging"
	"github.com/nebulaide/backend/internal/registry"
	"github.com/nebulaide/backend/internal/store"
	"github.com/nebulaide/backend/internal/types"
	"github.com/nebulaide/backend/internal/vfs"
)

type testRig struct {
	router  *gin.Engine
	manager *registry.Manager
	tree    *vfs.Tree
	events  *bus.Bus
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	events := bus.New()
	tree := vfs.New()
	backend, err := store.New(t.TempDir())
	require.NoError(t, err)

	caps := capability.NewRegistry()
	require.NoError(t, caps.Register(capability.NewEditor(nil)))
	require.NoError(t, caps.Register(capability.NewFiles(tree, events)))
	require.NoError(t, caps.Register(capability.NewStorage(backend)))

	cfg := registry.DefaultConfig()
	cfg.ActivationTimeout = 5 * time.Second
	manager := registry.NewManager(cfg, caps, events, &logging.Logger{Logger: zap.NewNop()})
	t.Cleanup(func() { manager.Dispose(context.Background()) })

	handlers := NewHandlers(manager, caps, tree, events)
	router := gin.New()
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/extensions", handlers.ListExtensions)
	router.POST("/extensions", handlers.InstallExtension)
	router.GET("/extensions/:id/status", handlers.ExtensionStatus)
	router.POST("/extensions/:id/activate", handlers.ActivateExtension)
	router.POST("/extensions/:id/deactivate", handlers.DeactivateExtension)
	router.POST("/extensions/:id/reload", handlers.ReloadExtension)
	router.GET("/commands", handlers.ListCommands)
	router.POST("/commands/execute", handlers.ExecuteCommand)
	router.GET("/capabilities", handlers.ListCapabilities)
	router.GET("/workspace/files", handlers.ListFiles)
	router.GET("/workspace/files/*path", handlers.ReadFile)
	router.PUT("/workspace/files/*path", handlers.WriteFile)
	router.DELETE("/workspace/files/*path", handlers.DeleteFile)

	return &testRig{router: router, manager: manager, tree: tree, events: events}
}

func (r *testRig) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func installExt(t *testing.T, rig *testRig, id, source string) {
	t.Helper()
	require.NoError(t, rig.manager.Install(&types.Manifest{
		ID:      id,
		Name:    id,
		Version: "1.0.0",
		Main:    "index.js",
	}, source))
}

func TestRootAndHealth(t *testing.T) {
	rig := newRig(t)

	w := rig.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", decode(t, w)["status"])

	w = rig.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestExtensionLifecycleOverREST(t *testing.T) {
	rig := newRig(t)
	installExt(t, rig, "fmt", `module.exports = { activate: function() {} };`)

	w := rig.do(t, http.MethodGet, "/extensions/fmt/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inactive", decode(t, w)["status"])

	w = rig.do(t, http.MethodPost, "/extensions/fmt/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decode(t, w)["status"])

	w = rig.do(t, http.MethodPost, "/extensions/fmt/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decode(t, w)["status"])

	w = rig.do(t, http.MethodPost, "/extensions/fmt/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inactive", decode(t, w)["status"])

	// Deactivating again conflicts
	w = rig.do(t, http.MethodPost, "/extensions/fmt/deactivate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestActivateUnknownReturns404(t *testing.T) {
	rig := newRig(t)

	w := rig.do(t, http.MethodPost, "/extensions/ghost/activate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = rig.do(t, http.MethodGet, "/extensions/ghost/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActivationFailureSurfaced(t *testing.T) {
	rig := newRig(t)
	installExt(t, rig, "broken", `module.exports = { activate: function() { throw new Error("nope"); } };`)

	w := rig.do(t, http.MethodPost, "/extensions/broken/activate", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["error"], "nope")

	w = rig.do(t, http.MethodGet, "/extensions/broken/status", nil)
	body := decode(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "nope")
}

func TestInstallOverREST(t *testing.T) {
	rig := newRig(t)

	w := rig.do(t, http.MethodPost, "/extensions", map[string]interface{}{
		"manifest": map[string]interface{}{
			"id":      "pushed",
			"name":    "Pushed",
			"version": "0.1.0",
			"main":    "index.js",
		},
		"source": `module.exports = {};`,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = rig.do(t, http.MethodPost, "/extensions/pushed/activate", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInstallRejectsBadManifest(t *testing.T) {
	rig := newRig(t)

	w := rig.do(t, http.MethodPost, "/extensions", map[string]interface{}{
		"manifest": map[string]interface{}{"name": "no id"},
		"source":   "",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommandsOverREST(t *testing.T) {
	rig := newRig(t)
	installExt(t, rig, "cmd", `
		module.exports = { activate: function(context) {
			context.registerCommand("cmd.noop", function() {});
		} };
	`)
	w := rig.do(t, http.MethodPost, "/extensions/cmd/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/commands", nil)
	body := decode(t, w)
	commands := body["commands"].(map[string]interface{})
	assert.Equal(t, "cmd", commands["cmd.noop"])

	w = rig.do(t, http.MethodPost, "/commands/execute", map[string]interface{}{
		"command": "cmd.noop",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["dispatched"])

	w = rig.do(t, http.MethodPost, "/commands/execute", map[string]interface{}{
		"command": "cmd.missing",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["dispatched"])
}

func TestListCapabilities(t *testing.T) {
	rig := newRig(t)

	w := rig.do(t, http.MethodGet, "/capabilities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	caps := decode(t, w)["capabilities"].([]interface{})
	assert.Len(t, caps, 3)
}

func TestWorkspaceFileCRUD(t *testing.T) {
	rig := newRig(t)

	saved := make(chan string, 1)
	rig.events.Subscribe("file.saved", func(_ string, data map[string]interface{}) {
		path, _ := data["path"].(string)
		saved <- path
	})

	w := rig.do(t, http.MethodPut, "/workspace/files/src/main.go", map[string]interface{}{
		"content": "package main",
	})
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case path := <-saved:
		assert.Equal(t, "/src/main.go", path)
	case <-time.After(time.Second):
		t.Fatal("file.saved never published")
	}

	w = rig.do(t, http.MethodGet, "/workspace/files/src/main.go", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "package main", decode(t, w)["content"])

	w = rig.do(t, http.MethodGet, "/workspace/files?pattern=**/*.go", nil)
	files := decode(t, w)["files"].([]interface{})
	assert.Equal(t, []interface{}{"/src/main.go"}, files)

	w = rig.do(t, http.MethodDelete, "/workspace/files/src/main.go", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/workspace/files/src/main.go", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
