// Package capability defines the host operations an extension may
// invoke, grouped by namespace (editor, terminal, ui, files, storage).
// Each provider takes plain-data payloads and produces plain-data
// results; errors cross the transport boundary as strings, never as
// panics.
package capability

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nebulaide/backend/internal/types"
)

// Provider implements one capability namespace.
type Provider interface {
	Definition() types.Capability
	Execute(method string, params map[string]interface{}, ctx *types.CallContext) (*types.Result, error)
}

// Registry maps namespaces to providers.
type Registry struct {
	providers sync.Map
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a provider under its definition id.
func (r *Registry) Register(p Provider) error {
	def := p.Definition()
	if def.ID == "" {
		return fmt.Errorf("capability: provider id cannot be empty")
	}
	r.providers.Store(def.ID, p)
	return nil
}

// Get retrieves a provider by namespace.
func (r *Registry) Get(namespace string) (Provider, bool) {
	val, ok := r.providers.Load(namespace)
	if !ok {
		return nil, false
	}
	return val.(Provider), true
}

// List returns all registered capability definitions, sorted by id.
func (r *Registry) List() []types.Capability {
	var caps []types.Capability
	r.providers.Range(func(_, value interface{}) bool {
		caps = append(caps, value.(Provider).Definition())
		return true
	})
	sort.Slice(caps, func(i, j int) bool { return caps[i].ID < caps[j].ID })
	return caps
}

// Execute runs a fully-qualified method ("namespace.method"). Unknown
// namespaces and methods come back as error results, not Go errors that
// would escape to the caller's stack.
func (r *Registry) Execute(method string, params map[string]interface{}, ctx *types.CallContext) (*types.Result, error) {
	parts := strings.SplitN(method, ".", 2)
	if len(parts) < 2 {
		return Failure(fmt.Sprintf("Unknown method: %s", method))
	}

	provider, ok := r.Get(parts[0])
	if !ok {
		return Failure(fmt.Sprintf("Unknown method: %s", method))
	}

	return provider.Execute(parts[1], params, ctx)
}

// MethodsFor resolves granted namespaces to the method names each one
// exposes. The result seeds the sandbox-side api object; namespaces
// without a registered provider are silently omitted.
func (r *Registry) MethodsFor(namespaces []string) map[string][]string {
	out := make(map[string][]string, len(namespaces))
	for _, ns := range namespaces {
		provider, ok := r.Get(ns)
		if !ok {
			continue
		}
		def := provider.Definition()
		methods := make([]string, 0, len(def.Methods))
		for _, m := range def.Methods {
			methods = append(methods, m.ID)
		}
		sort.Strings(methods)
		out[ns] = methods
	}
	return out
}

// SpecsFor resolves granted namespaces to full method specs, parameter
// declarations included. Sandboxes use the parameter names to map
// positional JS arguments onto the named payload.
func (r *Registry) SpecsFor(namespaces []string) map[string][]types.Method {
	out := make(map[string][]types.Method, len(namespaces))
	for _, ns := range namespaces {
		provider, ok := r.Get(ns)
		if !ok {
			continue
		}
		def := provider.Definition()
		methods := make([]types.Method, len(def.Methods))
		copy(methods, def.Methods)
		sort.Slice(methods, func(i, j int) bool { return methods[i].ID < methods[j].ID })
		out[ns] = methods
	}
	return out
}

// Success builds a successful result.
func Success(data map[string]interface{}) (*types.Result, error) {
	return &types.Result{Success: true, Data: data}, nil
}

// Value builds a successful result carrying a single extension-visible
// value.
func Value(v interface{}) (*types.Result, error) {
	return Success(map[string]interface{}{"result": v})
}

// Failure builds an error result. The error is also returned so callers
// that care can branch without inspecting the result.
func Failure(message string) (*types.Result, error) {
	return &types.Result{Success: false, Error: &message}, fmt.Errorf("%s", message)
}
