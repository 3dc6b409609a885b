package capability

import (
	"fmt"

	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/types"
	"github.com/nebulaide/backend/internal/vfs"
)

// Files provides the files capability namespace over the host's virtual
// file tree.
type Files struct {
	tree   *vfs.Tree
	events *bus.Bus
}

// NewFiles creates the files provider.
func NewFiles(tree *vfs.Tree, events *bus.Bus) *Files {
	return &Files{tree: tree, events: events}
}

// Definition returns capability metadata.
func (f *Files) Definition() types.Capability {
	return types.Capability{
		ID:          "files",
		Name:        "Files",
		Description: "Read and write the workspace virtual file tree",
		Methods: []types.Method{
			{ID: "read", Description: "Read a file; null if it does not exist", Parameters: []types.Parameter{
				{Name: "path", Type: "string", Description: "Workspace path", Required: true},
			}, Returns: "string|null"},
			{ID: "write", Description: "Create or replace a file", Parameters: []types.Parameter{
				{Name: "path", Type: "string", Description: "Workspace path", Required: true},
				{Name: "content", Type: "string", Description: "File content", Required: true},
			}, Returns: "boolean"},
			{ID: "list", Description: "List paths matching a glob pattern", Parameters: []types.Parameter{
				{Name: "pattern", Type: "string", Description: "Glob pattern, ** supported", Required: false},
			}, Returns: "array"},
		},
	}
}

// Execute runs a files operation.
func (f *Files) Execute(method string, params map[string]interface{}, ctx *types.CallContext) (*types.Result, error) {
	switch method {
	case "read":
		path, ok := params["path"].(string)
		if !ok || path == "" {
			return Failure("path parameter required")
		}
		data, found := f.tree.Read(path)
		if !found {
			// A missing file is a normal outcome, not an error.
			return Value(nil)
		}
		return Value(string(data))

	case "write":
		path, ok := params["path"].(string)
		if !ok || path == "" {
			return Failure("path parameter required")
		}
		content, _ := params["content"].(string)
		f.tree.Write(path, []byte(content))
		if f.events != nil {
			f.events.Emit("file.saved", map[string]interface{}{"path": vfs.Normalize(path)})
		}
		return Value(true)

	case "list":
		pattern, _ := params["pattern"].(string)
		paths := f.tree.List(pattern)
		out := make([]interface{}, len(paths))
		for i, p := range paths {
			out[i] = p
		}
		return Value(out)

	default:
		return Failure(fmt.Sprintf("Unknown method: files.%s", method))
	}
}
