package capability

import (
	"fmt"

	"github.com/nebulaide/backend/internal/store"
	"github.com/nebulaide/backend/internal/types"
)

// Storage provides the storage capability namespace: durable key/value
// persistence scoped per extension id.
type Storage struct {
	backend *store.Store
}

// NewStorage creates the storage provider.
func NewStorage(backend *store.Store) *Storage {
	return &Storage{backend: backend}
}

// Definition returns capability metadata.
func (s *Storage) Definition() types.Capability {
	return types.Capability{
		ID:          "storage",
		Name:        "Storage",
		Description: "Durable per-extension key/value storage",
		Methods: []types.Method{
			{ID: "get", Description: "Read a value; null if unset", Parameters: []types.Parameter{
				{Name: "key", Type: "string", Description: "Storage key", Required: true},
			}, Returns: "any"},
			{ID: "set", Description: "Store a value", Parameters: []types.Parameter{
				{Name: "key", Type: "string", Description: "Storage key", Required: true},
				{Name: "value", Type: "any", Description: "Value to store", Required: true},
			}, Returns: "boolean"},
			{ID: "remove", Description: "Delete a key", Parameters: []types.Parameter{
				{Name: "key", Type: "string", Description: "Storage key", Required: true},
			}, Returns: "boolean"},
			{ID: "keys", Description: "List this extension's keys", Returns: "array"},
		},
	}
}

// Execute runs a storage operation. The caller's extension id scopes
// every access; there is no cross-extension path.
func (s *Storage) Execute(method string, params map[string]interface{}, ctx *types.CallContext) (*types.Result, error) {
	if ctx == nil || ctx.ExtensionID == "" {
		return Failure("extension context required for storage operations")
	}

	switch method {
	case "get":
		key, ok := params["key"].(string)
		if !ok || key == "" {
			return Failure("key parameter required")
		}
		value, found := s.backend.Get(ctx.ExtensionID, key)
		if !found {
			return Value(nil)
		}
		return Value(value)

	case "set":
		key, ok := params["key"].(string)
		if !ok || key == "" {
			return Failure("key parameter required")
		}
		if err := s.backend.Set(ctx.ExtensionID, key, params["value"]); err != nil {
			return Failure(fmt.Sprintf("storage write failed: %v", err))
		}
		return Value(true)

	case "remove":
		key, ok := params["key"].(string)
		if !ok || key == "" {
			return Failure("key parameter required")
		}
		removed, err := s.backend.Remove(ctx.ExtensionID, key)
		if err != nil {
			return Failure(fmt.Sprintf("storage delete failed: %v", err))
		}
		return Value(removed)

	case "keys":
		keys := s.backend.Keys(ctx.ExtensionID)
		out := make([]interface{}, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return Value(out)

	default:
		return Failure(fmt.Sprintf("Unknown method: storage.%s", method))
	}
}
