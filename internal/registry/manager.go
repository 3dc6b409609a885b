// Package registry tracks installed extensions and their live runtimes.
// The Manager owns the full lifecycle: activation handshakes, api-call
// brokering against the capability registry, event fan-out, command
// dispatch and teardown. One sandbox exists per active extension; a
// crashed or timed-out sandbox flips that extension to the error status
// without touching any other runtime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/capability"
	"github.com/nebulaide/backend/internal/logging"
	"github.com/nebulaide/backend/internal/sandbox"
	"github.com/nebulaide/backend/internal/transport"
	"github.com/nebulaide/backend/internal/types"
)

// Bus topics published by the manager.
const (
	TopicActivated         = "extension:activated"
	TopicDeactivated       = "extension:deactivated"
	TopicError             = "extension:error"
	TopicLog               = "extension:log"
	TopicCommandRegistered = "extension:commandRegistered"
)

// Lifecycle errors.
var (
	ErrNotInstalled = errors.New("registry: extension is not installed")
	ErrNotRunning   = errors.New("registry: extension is not running")
)

// Metrics receives lifecycle and api-call observations. Optional.
type Metrics interface {
	ExtensionActivated(id string)
	ExtensionDeactivated(id string)
	ExtensionError(id string)
	APICall(method string, success bool, elapsed time.Duration)
}

// Config tunes manager timing.
type Config struct {
	// ActivationTimeout bounds the whole activation handshake,
	// including an async activate export.
	ActivationTimeout time.Duration
	// DeactivateGrace is how long a deactivate handler may run before
	// the sandbox is force-terminated.
	DeactivateGrace time.Duration
	// ExecTimeout is passed through to each sandbox.
	ExecTimeout time.Duration

	Metrics Metrics
}

// DefaultConfig returns the standard manager timing.
func DefaultConfig() Config {
	return Config{
		ActivationTimeout: 10 * time.Second,
		DeactivateGrace:   2 * time.Second,
		ExecTimeout:       5 * time.Second,
	}
}

// Manager is the extension runtime registry.
type Manager struct {
	cfg    Config
	caps   *capability.Registry
	events *bus.Bus
	log    *logging.Logger

	entries sync.Map // id -> *entry
	states  sync.Map // id -> *extState

	mu       sync.Mutex
	runtimes map[string]*runtime
	commands map[string]string // command id -> extension id
}

// NewManager creates a manager wired to the capability registry and the
// host event bus.
func NewManager(cfg Config, caps *capability.Registry, events *bus.Bus, log *logging.Logger) *Manager {
	if cfg.ActivationTimeout <= 0 {
		cfg.ActivationTimeout = 10 * time.Second
	}
	if cfg.DeactivateGrace <= 0 {
		cfg.DeactivateGrace = 2 * time.Second
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 5 * time.Second
	}
	if log == nil {
		log = logging.NewDefault()
	}
	return &Manager{
		cfg:      cfg,
		caps:     caps,
		events:   events,
		log:      log,
		runtimes: make(map[string]*runtime),
		commands: make(map[string]string),
	}
}

// Install registers a manifest and its source. Reinstalling an id
// replaces the stored entry; a running runtime keeps its old source
// until the next reload.
func (m *Manager) Install(manifest *types.Manifest, source string) error {
	if manifest == nil {
		return fmt.Errorf("registry: manifest is required")
	}
	if err := manifest.Validate(); err != nil {
		return err
	}
	m.entries.Store(manifest.ID, &entry{manifest: manifest, source: source})
	m.log.Info("extension installed",
		zap.String("extension_id", manifest.ID),
		zap.String("version", manifest.Version))
	return nil
}

// Uninstall removes an installed extension, deactivating it first if it
// is running.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	if _, ok := m.entries.Load(id); !ok {
		return ErrNotInstalled
	}
	_ = m.Deactivate(ctx, id)
	m.entries.Delete(id)
	m.states.Delete(id)
	return nil
}

// List returns the manifests of all installed extensions.
func (m *Manager) List() []*types.Manifest {
	var out []*types.Manifest
	m.entries.Range(func(_, value interface{}) bool {
		out = append(out, value.(*entry).manifest)
		return true
	})
	return out
}

// Status reports the lifecycle state for an id: the runtime's state if
// one exists, inactive for installed-but-idle extensions, not-found
// otherwise.
func (m *Manager) Status(id string) types.Status {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	m.mu.Unlock()
	if ok {
		return rt.Status()
	}
	if _, installed := m.entries.Load(id); installed {
		return types.StatusInactive
	}
	return types.StatusNotFound
}

// LastError returns the most recent failure message for an id, if any.
func (m *Manager) LastError(id string) string {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	m.mu.Unlock()
	if !ok {
		return ""
	}
	return rt.LastError()
}

// Active returns the ids of all extensions currently in the active
// state.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, rt := range m.runtimes {
		if rt.Status() == types.StatusActive {
			out = append(out, id)
		}
	}
	return out
}

// Activate boots a sandbox for the extension and runs the activation
// handshake. Activating an already-active extension is a no-op;
// concurrent calls for the same id share one handshake. A previous
// failed runtime is replaced.
func (m *Manager) Activate(ctx context.Context, id string) error {
	val, ok := m.entries.Load(id)
	if !ok {
		return ErrNotInstalled
	}
	ent := val.(*entry)

	m.mu.Lock()
	if existing, ok := m.runtimes[id]; ok {
		switch existing.Status() {
		case types.StatusActive:
			m.mu.Unlock()
			return nil
		case types.StatusActivating:
			m.mu.Unlock()
			return m.await(ctx, existing)
		default:
			// error/disposed leftovers are replaced
			delete(m.runtimes, id)
		}
	}
	rt := newRuntime(ent.manifest)
	m.runtimes[id] = rt
	m.mu.Unlock()

	m.boot(rt, ent)
	return m.await(ctx, rt)
}

// boot builds the pipe and sandbox for a runtime and sends the activate
// envelope.
func (m *Manager) boot(rt *runtime, ent *entry) {
	state := m.stateFor(rt.manifest.ID)

	cfg := sandbox.Config{
		ExecTimeout:    m.cfg.ExecTimeout,
		API:            m.caps.SpecsFor(rt.manifest.Namespaces()),
		Modules:        sandbox.DefaultModules(),
		WorkspaceState: state.workspace,
		GlobalState:    state.global,
		OnCommandRegistered: func(commandID string) {
			m.registerCommand(rt.manifest.ID, commandID)
		},
	}

	hostConn, sandboxConn := transport.Pipe(64)
	rt.conn = hostConn
	rt.box = sandbox.New(rt.manifest.ID, cfg, sandboxConn)

	go m.pump(rt)

	if err := hostConn.Send(transport.Envelope{
		Type: transport.KindActivate,
		Data: map[string]interface{}{"source": ent.source},
	}); err != nil {
		rt.setError(err.Error())
		rt.settle(err)
	}
}

// await blocks until the runtime's handshake settles, the activation
// timeout fires or the caller's context expires.
func (m *Manager) await(ctx context.Context, rt *runtime) error {
	select {
	case <-rt.readyCh:
		return rt.readyErr
	case <-time.After(m.cfg.ActivationTimeout):
		err := fmt.Errorf("registry: activation of %s timed out", rt.manifest.ID)
		rt.setError(err.Error())
		rt.settle(err)
		rt.box.Close()
		m.emitError(rt.manifest.ID, err.Error(), true)
		return err
	case <-ctx.Done():
		// The runtime must not stay in activating: a later Activate
		// replaces error-state leftovers with a fresh attempt.
		rt.setError(ctx.Err().Error())
		rt.settle(ctx.Err())
		rt.box.Close()
		return ctx.Err()
	}
}

func (m *Manager) stateFor(id string) *extState {
	val, _ := m.states.LoadOrStore(id, &extState{
		workspace: types.NewStateMap(),
		global:    types.NewStateMap(),
	})
	return val.(*extState)
}

// Deactivate runs the extension's cleanup handler under the grace
// period, then tears the sandbox down and drops the runtime record.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	if ok {
		delete(m.runtimes, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	_ = rt.conn.Send(transport.Envelope{Type: transport.KindDeactivate})

	select {
	case <-rt.box.DeactivateDone():
	case <-time.After(m.cfg.DeactivateGrace):
		m.log.Warn("deactivate grace period expired, force-terminating",
			zap.String("extension_id", id))
	case <-ctx.Done():
	}

	rt.box.Close()
	rt.setStatus(types.StatusDisposed)
	m.dropCommands(id)

	m.log.Info("extension deactivated", zap.String("extension_id", id))
	m.events.Emit(TopicDeactivated, map[string]interface{}{"extension_id": id})
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ExtensionDeactivated(id)
	}
	return nil
}

// Reload deactivates (if running) and re-activates from the currently
// installed source.
func (m *Manager) Reload(ctx context.Context, id string) error {
	if _, ok := m.entries.Load(id); !ok {
		return ErrNotInstalled
	}
	if err := m.Deactivate(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return m.Activate(ctx, id)
}

// ActivateEager activates every installed extension whose manifest asks
// for load-time activation. Individual failures are logged, not
// propagated; one broken extension never blocks the rest.
func (m *Manager) ActivateEager(ctx context.Context) {
	m.entries.Range(func(key, value interface{}) bool {
		ent := value.(*entry)
		if !ent.manifest.Eager() {
			return true
		}
		if err := m.Activate(ctx, ent.manifest.ID); err != nil {
			m.log.Warn("eager activation failed",
				zap.String("extension_id", ent.manifest.ID),
				zap.Error(err))
		}
		return true
	})
}

// ExecuteCommand dispatches a registered command to the extension that
// owns it. Unknown commands and commands of non-active extensions are
// silently dropped; the return value reports whether dispatch happened.
func (m *Manager) ExecuteCommand(commandID string, args []interface{}) bool {
	m.mu.Lock()
	extID, ok := m.commands[commandID]
	var rt *runtime
	if ok {
		rt, ok = m.runtimes[extID]
	}
	m.mu.Unlock()
	if !ok || rt.Status() != types.StatusActive {
		return false
	}

	env := transport.Envelope{
		Type:   transport.KindExecuteCommand,
		Method: commandID,
	}
	if len(args) > 0 {
		env.Data = map[string]interface{}{"args": args}
	}
	return rt.conn.Send(env) == nil
}

// Broadcast delivers a host event to every active runtime, first lazily
// activating any installed extension whose manifest subscribes to it.
func (m *Manager) Broadcast(event string, data map[string]interface{}) {
	m.entries.Range(func(key, value interface{}) bool {
		ent := value.(*entry)
		if !ent.manifest.ActivatesOn(event) {
			return true
		}
		if m.Status(ent.manifest.ID) != types.StatusInactive {
			return true
		}
		if err := m.Activate(context.Background(), ent.manifest.ID); err != nil {
			m.log.Warn("lazy activation failed",
				zap.String("extension_id", ent.manifest.ID),
				zap.String("event", event),
				zap.Error(err))
		}
		return true
	})

	m.mu.Lock()
	targets := make([]*runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		if rt.Status() == types.StatusActive {
			targets = append(targets, rt)
		}
	}
	m.mu.Unlock()

	for _, rt := range targets {
		_ = rt.conn.Send(transport.Envelope{
			Type:  transport.KindEvent,
			Event: event,
			Data:  data,
		})
	}
}

// Dispose deactivates all running extensions concurrently.
func (m *Manager) Dispose(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.Deactivate(ctx, id)
		}(id)
	}
	wg.Wait()
}

// pump drains the host end of one runtime's pipe until the pipe closes.
func (m *Manager) pump(rt *runtime) {
	for {
		select {
		case env := <-rt.conn.Recv():
			m.handleEnvelope(rt, env)
		case <-rt.conn.Done():
			return
		}
	}
}

func (m *Manager) handleEnvelope(rt *runtime, env transport.Envelope) {
	id := rt.manifest.ID

	switch env.Type {
	case transport.KindActivated:
		rt.setStatus(types.StatusActive)
		rt.settle(nil)
		m.log.Info("extension activated", zap.String("extension_id", id))
		m.events.Emit(TopicActivated, map[string]interface{}{"extension_id": id})
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.ExtensionActivated(id)
		}

	case transport.KindAPICall:
		go m.handleAPICall(rt, env)

	case transport.KindLog:
		level, _ := env.Data["level"].(string)
		message, _ := env.Data["message"].(string)
		m.log.Info("extension log",
			zap.String("extension_id", id),
			zap.String("level", level),
			zap.String("message", message))
		m.events.Emit(TopicLog, map[string]interface{}{
			"extension_id": id,
			"level":        level,
			"message":      message,
		})

	case transport.KindError:
		m.handleError(rt, env)
	}
}

func (m *Manager) handleError(rt *runtime, env transport.Envelope) {
	id := rt.manifest.ID
	phase, _ := env.Data["phase"].(string)

	// console.error is diagnostics, not a failure
	if phase == "console" {
		m.log.Warn("extension console error",
			zap.String("extension_id", id),
			zap.String("message", env.Error))
		m.events.Emit(TopicLog, map[string]interface{}{
			"extension_id": id,
			"level":        "error",
			"message":      env.Error,
		})
		return
	}

	if rt.Status() == types.StatusActivating {
		err := fmt.Errorf("registry: activation of %s failed: %s", id, env.Error)
		rt.setError(env.Error)
		rt.settle(err)
		rt.box.Close()
		m.emitError(id, env.Error, true)
		return
	}

	if env.Fatal() {
		// Crash or timeout: this runtime is gone. Other runtimes are
		// unaffected.
		rt.setError(env.Error)
		rt.box.Close()
		m.dropCommands(id)
		m.emitError(id, env.Error, true)
		return
	}

	// Contained handler throw: report, keep running.
	m.log.Warn("extension handler error",
		zap.String("extension_id", id),
		zap.String("phase", phase),
		zap.String("message", env.Error))
	m.emitError(id, env.Error, false)
}

func (m *Manager) emitError(id, message string, fatal bool) {
	m.events.Emit(TopicError, map[string]interface{}{
		"extension_id": id,
		"error":        message,
		"fatal":        fatal,
	})
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ExtensionError(id)
	}
}

// handleAPICall brokers one api-call through the capability registry.
// Runs on its own goroutine so calls that block (ui prompts) never
// stall the runtime's pipe.
func (m *Manager) handleAPICall(rt *runtime, env transport.Envelope) {
	start := time.Now()
	result, _ := m.caps.Execute(env.Method, env.Data, &types.CallContext{
		ExtensionID: rt.manifest.ID,
	})

	resp := transport.Envelope{
		Type:   transport.KindAPIResponse,
		CallID: env.CallID,
	}
	if result.Success {
		resp.Result = result.Value()
	} else {
		resp.Error = *result.Error
	}
	_ = rt.conn.Send(resp)

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.APICall(env.Method, result.Success, time.Since(start))
	}
}

func (m *Manager) registerCommand(extensionID, commandID string) {
	m.mu.Lock()
	m.commands[commandID] = extensionID
	m.mu.Unlock()

	m.events.Emit(TopicCommandRegistered, map[string]interface{}{
		"extension_id": extensionID,
		"command":      commandID,
	})
}

// Commands returns the registered command ids mapped to their owning
// extension.
func (m *Manager) Commands() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.commands))
	for cmd, ext := range m.commands {
		out[cmd] = ext
	}
	return out
}

func (m *Manager) dropCommands(extensionID string) {
	m.mu.Lock()
	for cmd, ext := range m.commands {
		if ext == extensionID {
			delete(m.commands, cmd)
		}
	}
	m.mu.Unlock()
}
