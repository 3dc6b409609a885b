package types

import "sync"

// Capability describes one API namespace exposed to extensions
type Capability struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Methods     []Method `json:"methods"`
}

// Method describes a single callable host operation
type Method struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Returns     string      `json:"returns"`
}

// Parameter describes a method parameter
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// CallContext identifies the caller of a capability method
type CallContext struct {
	ExtensionID string `json:"extension_id"`
}

// Result represents a capability execution result
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   *string                `json:"error,omitempty"`
}

// Value extracts the extension-visible return value from a result.
// Providers place it under the "result" key; methods with richer
// payloads return the whole data map.
func (r *Result) Value() interface{} {
	if r.Data == nil {
		return nil
	}
	if v, ok := r.Data["result"]; ok && len(r.Data) == 1 {
		return v
	}
	return r.Data
}

// StateMap is a mutable key/value map owned by a single extension
// context (workspaceState/globalState). In-memory only.
type StateMap struct {
	mu sync.RWMutex
	m  map[string]interface{}
}

// NewStateMap creates an empty state map.
func NewStateMap() *StateMap {
	return &StateMap{m: make(map[string]interface{})}
}

// Get returns the value for key, or nil.
func (s *StateMap) Get(key string) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[key]
}

// Set stores a value under key.
func (s *StateMap) Set(key string, value interface{}) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// Keys returns all stored keys.
func (s *StateMap) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

// Clear removes all entries.
func (s *StateMap) Clear() {
	s.mu.Lock()
	s.m = make(map[string]interface{})
	s.mu.Unlock()
}
