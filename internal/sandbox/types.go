package sandbox

import (
	"time"

	"github.com/nebulaide/backend/internal/types"
)

// Config defines one execution context's environment.
type Config struct {
	// ExecTimeout bounds every synchronous evaluation phase (script
	// parse+activate trigger, event/command handlers). Exceeding it
	// aborts the phase via interrupt and is fatal for the runtime.
	ExecTimeout time.Duration

	// API lists the granted capability namespaces and their method
	// specs. Only these appear on the sandbox-side api object.
	API map[string][]types.Method

	// Modules is the capability-gated require allow-list: module name
	// to safe, pre-vetted implementation. Anything else is refused.
	Modules map[string]map[string]interface{}

	// Per-activation mutable state exposed via the context object.
	WorkspaceState *types.StateMap
	GlobalState    *types.StateMap

	// OnCommandRegistered is invoked (on the box goroutine) when the
	// extension registers a command. Optional.
	OnCommandRegistered func(commandID string)
}

// DefaultConfig returns the standard sandbox configuration.
func DefaultConfig() Config {
	return Config{
		ExecTimeout:    5 * time.Second,
		Modules:        DefaultModules(),
		WorkspaceState: types.NewStateMap(),
		GlobalState:    types.NewStateMap(),
	}
}
