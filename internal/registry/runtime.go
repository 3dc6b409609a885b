package registry

import (
	"sync"

	"github.com/nebulaide/backend/internal/sandbox"
	"github.com/nebulaide/backend/internal/transport"
	"github.com/nebulaide/backend/internal/types"
)

// entry is one installed extension: its immutable manifest plus the
// source loaded from its main file.
type entry struct {
	manifest *types.Manifest
	source   string
}

// extState carries the per-extension state maps. It outlives individual
// runtimes so reloads see the same workspaceState/globalState.
type extState struct {
	workspace *types.StateMap
	global    *types.StateMap
}

// runtime is one live (or failed) activation: the sandbox, the host end
// of its pipe and the mutable lifecycle status.
type runtime struct {
	manifest *types.Manifest
	box      *sandbox.Box
	conn     *transport.Conn

	readyOnce sync.Once
	readyCh   chan struct{}
	readyErr  error

	mu      sync.Mutex
	status  types.Status
	lastErr string
}

func newRuntime(manifest *types.Manifest) *runtime {
	return &runtime{
		manifest: manifest,
		readyCh:  make(chan struct{}),
		status:   types.StatusActivating,
	}
}

// settle records the activation outcome exactly once and releases every
// goroutine blocked in Activate.
func (rt *runtime) settle(err error) {
	rt.readyOnce.Do(func() {
		rt.readyErr = err
		close(rt.readyCh)
	})
}

func (rt *runtime) Status() types.Status {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.status
}

func (rt *runtime) setStatus(s types.Status) {
	rt.mu.Lock()
	rt.status = s
	rt.mu.Unlock()
}

func (rt *runtime) setError(message string) {
	rt.mu.Lock()
	rt.status = types.StatusError
	rt.lastErr = message
	rt.mu.Unlock()
}

func (rt *runtime) LastError() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lastErr
}
