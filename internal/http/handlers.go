package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/capability"
	"github.com/nebulaide/backend/internal/registry"
	"github.com/nebulaide/backend/internal/sandbox"
	"github.com/nebulaide/backend/internal/types"
	"github.com/nebulaide/backend/internal/vfs"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	manager *registry.Manager
	caps    *capability.Registry
	tree    *vfs.Tree
	events  *bus.Bus
}

// NewHandlers creates a new handler set.
func NewHandlers(manager *registry.Manager, caps *capability.Registry, tree *vfs.Tree, events *bus.Bus) *Handlers {
	return &Handlers{
		manager: manager,
		caps:    caps,
		tree:    tree,
		events:  events,
	}
}

// Root handles health check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "NebulaIDE Extension Host",
		"version": "0.3.0",
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"extensions":        len(h.manager.List()),
		"active_extensions": h.manager.Active(),
		"workspace_files":   h.tree.Len(),
	})
}

// ListExtensions lists installed extensions with their lifecycle state.
func (h *Handlers) ListExtensions(c *gin.Context) {
	manifests := h.manager.List()
	out := make([]gin.H, 0, len(manifests))
	for _, m := range manifests {
		item := gin.H{
			"manifest": m,
			"status":   h.manager.Status(m.ID),
		}
		if lastErr := h.manager.LastError(m.ID); lastErr != "" {
			item["error"] = lastErr
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"extensions": out})
}

// ExtensionStatus reports one extension's lifecycle state.
func (h *Handlers) ExtensionStatus(c *gin.Context) {
	id := c.Param("id")
	status := h.manager.Status(id)
	if status == types.StatusNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "extension not found", "extension_id": id})
		return
	}

	resp := gin.H{"extension_id": id, "status": status}
	if lastErr := h.manager.LastError(id); lastErr != "" {
		resp["error"] = lastErr
	}
	c.JSON(http.StatusOK, resp)
}

// ActivateExtension boots an extension runtime.
func (h *Handlers) ActivateExtension(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Activate(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNotInstalled) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error(), "extension_id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"extension_id": id, "status": h.manager.Status(id)})
}

// DeactivateExtension tears an extension runtime down.
func (h *Handlers) DeactivateExtension(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Deactivate(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "extension_id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"extension_id": id, "status": h.manager.Status(id)})
}

// ReloadExtension restarts an extension from its installed source.
func (h *Handlers) ReloadExtension(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Reload(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNotInstalled) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error(), "extension_id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"extension_id": id, "status": h.manager.Status(id)})
}

// InstallExtension installs a manifest plus source without touching
// disk. Used by development tooling to push extensions into a running
// host.
func (h *Handlers) InstallExtension(c *gin.Context) {
	var req struct {
		Manifest types.Manifest `json:"manifest"`
		Source   string         `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.Install(&req.Manifest, req.Source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"extension_id": req.Manifest.ID, "status": h.manager.Status(req.Manifest.ID)})
}

// ExecuteCommand dispatches a registered extension command.
func (h *Handlers) ExecuteCommand(c *gin.Context) {
	var req struct {
		Command string        `json:"command" binding:"required"`
		Args    []interface{} `json:"args"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dispatched := h.manager.ExecuteCommand(req.Command, req.Args)
	c.JSON(http.StatusOK, gin.H{"command": req.Command, "dispatched": dispatched})
}

// ListCommands lists registered commands and their owning extensions.
func (h *Handlers) ListCommands(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commands": h.manager.Commands()})
}

// ListCapabilities lists the capability namespaces extensions can be
// granted.
func (h *Handlers) ListCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": h.caps.List()})
}

// ReadFile returns one workspace file.
func (h *Handlers) ReadFile(c *gin.Context) {
	path := vfs.Normalize(c.Param("path"))
	content, ok := h.tree.Read(path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found", "path": path})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "content": string(content)})
}

// WriteFile creates or replaces one workspace file and publishes the
// save event.
func (h *Handlers) WriteFile(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := vfs.Normalize(c.Param("path"))
	h.tree.Write(path, []byte(req.Content))
	h.events.Emit(sandbox.EventFileSaved, map[string]interface{}{"path": path})
	c.JSON(http.StatusOK, gin.H{"path": path, "success": true})
}

// DeleteFile removes one workspace file.
func (h *Handlers) DeleteFile(c *gin.Context) {
	path := vfs.Normalize(c.Param("path"))
	if !h.tree.Delete(path) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found", "path": path})
		return
	}
	h.events.Emit(sandbox.EventFileClosed, map[string]interface{}{"path": path})
	c.JSON(http.StatusOK, gin.H{"path": path, "success": true})
}

// ListFiles lists workspace files, optionally filtered by a glob
// pattern.
func (h *Handlers) ListFiles(c *gin.Context) {
	pattern := strings.TrimSpace(c.Query("pattern"))
	c.JSON(http.StatusOK, gin.H{"files": h.tree.List(pattern)})
}
