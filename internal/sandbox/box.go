// Package sandbox provides the isolated execution context for extension
// source. Each Box owns one goja runtime confined to a single
// goroutine; the host communicates with it exclusively through
// transport envelopes. A crash, throw or timeout inside one box never
// reaches another box or the host's own call stack.
package sandbox

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/nebulaide/backend/internal/transport"
)

const (
	interruptTimeout  = "execution timeout exceeded"
	interruptDisposed = "extension runtime disposed"
)

// pendingCall holds the settle functions of one api-call promise, as
// returned by goja's NewPromise.
type pendingCall struct {
	resolve func(interface{}) error
	reject  func(interface{}) error
}

type handlerEntry struct {
	id int64
	fn goja.Callable
}

// Box is one sandboxed execution context. All goja access happens on
// the box goroutine; other goroutines interact via the transport pipe,
// Close and DeactivateDone.
type Box struct {
	id   string
	cfg  Config
	vm   *goja.Runtime
	conn *transport.Conn

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool

	// Pending api calls. The map is written on the box goroutine and
	// cleared (abandoned) from Close, hence the mutex.
	pendingMu sync.Mutex
	pending   map[int64]*pendingCall
	nextCall  int64

	// Loop-local state, touched only on the box goroutine.
	commands     map[string]goja.Callable
	handlers     map[string][]handlerEntry
	nextSub      int64
	activated    bool
	deactivateFn goja.Callable
	ctxObj       *goja.Object

	deactAck  chan struct{}
	deactOnce sync.Once
}

// New creates a box bound to the sandbox end of a transport pipe and
// starts its goroutine. The box stays idle until an activate envelope
// arrives.
func New(id string, cfg Config, conn *transport.Conn) *Box {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 5 * time.Second
	}
	if cfg.Modules == nil {
		cfg.Modules = DefaultModules()
	}

	b := &Box{
		id:       id,
		cfg:      cfg,
		vm:       goja.New(),
		conn:     conn,
		jobs:     make(chan func(), 64),
		done:     make(chan struct{}),
		pending:  make(map[int64]*pendingCall),
		commands: make(map[string]goja.Callable),
		handlers: make(map[string][]handlerEntry),
		deactAck: make(chan struct{}),
	}

	b.vm.SetMaxCallStackSize(1024)
	go b.loop()
	return b
}

// DeactivateDone is closed once the extension's own deactivate handler
// has settled (or was absent). The host waits on it for a bounded grace
// period before force-terminating.
func (b *Box) DeactivateDone() <-chan struct{} {
	return b.deactAck
}

// PendingCalls returns the number of unsettled api calls.
func (b *Box) PendingCalls() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

// Close force-terminates the box: the runtime is interrupted, all
// pending calls are abandoned and the pipe is torn down. Idempotent and
// safe to call while extension code is stuck in a loop.
func (b *Box) Close() {
	b.closeOnce.Do(func() {
		b.closing.Store(true)
		b.vm.Interrupt(interruptDisposed)

		b.pendingMu.Lock()
		b.pending = make(map[int64]*pendingCall)
		b.pendingMu.Unlock()

		b.conn.Close()
		close(b.done)
	})
}

func (b *Box) loop() {
	for {
		select {
		case <-b.done:
			return
		case job := <-b.jobs:
			b.safely(job)
		case env := <-b.conn.Recv():
			b.safely(func() { b.dispatch(env) })
		case <-b.conn.Done():
			return
		}
	}
}

// safely keeps host-side panics from taking the loop down with them.
func (b *Box) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.sendError(fmt.Sprintf("internal sandbox failure: %v", r), true, "internal")
		}
	}()
	fn()
}

func (b *Box) dispatch(env transport.Envelope) {
	switch env.Type {
	case transport.KindActivate:
		b.activate(env)
	case transport.KindAPIResponse:
		b.settle(env)
	case transport.KindEvent:
		b.fireEvent(env.Event, env.Data)
	case transport.KindExecuteCommand:
		b.runCommand(env)
	case transport.KindDeactivate:
		b.deactivate()
	}
}

// guard runs fn under the execution timeout. Interrupted evaluations
// surface as *goja.InterruptedError.
func (b *Box) guard(fn func() error) error {
	timer := time.AfterFunc(b.cfg.ExecTimeout, func() {
		b.vm.Interrupt(interruptTimeout)
	})
	defer func() {
		timer.Stop()
		if !b.closing.Load() {
			b.vm.ClearInterrupt()
		}
	}()
	return fn()
}

func (b *Box) activate(env transport.Envelope) {
	if b.activated {
		// Re-activation of a live box is a protocol error; the
		// registry creates a fresh box per activation.
		b.send(transport.Envelope{Type: transport.KindActivated})
		return
	}

	source, _ := env.Data["source"].(string)

	module, err := b.setupGlobals()
	if err != nil {
		b.fail("setup", err)
		return
	}

	if err := b.guard(func() error {
		_, evalErr := b.vm.RunString(source)
		return evalErr
	}); err != nil {
		b.fail("evaluate", err)
		return
	}

	exports := b.exportsOf(module)
	if exports == nil {
		b.fail("evaluate", errors.New("module.exports is not an object"))
		return
	}

	if fn, ok := goja.AssertFunction(exports.Get("deactivate")); ok {
		b.deactivateFn = fn
	}

	activateFn, ok := goja.AssertFunction(exports.Get("activate"))
	if !ok {
		// Nothing to run; the extension is passively active.
		b.markActivated()
		return
	}

	var result goja.Value
	if err := b.guard(func() error {
		var callErr error
		result, callErr = activateFn(goja.Undefined(), b.ctxObj)
		return callErr
	}); err != nil {
		b.fail("activate", err)
		return
	}

	// activate may be async; activated is only signalled after it
	// settles successfully.
	b.settleThenable(result, b.markActivated, func(reason string) {
		b.fail("activate", errors.New(reason))
	})
}

func (b *Box) markActivated() {
	if b.activated {
		return
	}
	b.activated = true
	b.send(transport.Envelope{Type: transport.KindActivated})
}

func (b *Box) deactivate() {
	if b.deactivateFn == nil {
		b.ackDeactivate()
		return
	}

	var result goja.Value
	err := b.guard(func() error {
		var callErr error
		result, callErr = b.deactivateFn(goja.Undefined())
		return callErr
	})
	if err != nil {
		// Cleanup failures don't stall teardown.
		b.sendError(fmt.Sprintf("deactivate handler failed: %v", err), false, "deactivate")
		b.ackDeactivate()
		return
	}

	b.settleThenable(result, b.ackDeactivate, func(reason string) {
		b.sendError("deactivate handler rejected: "+reason, false, "deactivate")
		b.ackDeactivate()
	})
}

func (b *Box) ackDeactivate() {
	b.deactOnce.Do(func() { close(b.deactAck) })
}

func (b *Box) fireEvent(event string, data map[string]interface{}) {
	entries := b.handlers[event]
	if len(entries) == 0 {
		return
	}
	payload := b.vm.ToValue(data)
	for _, entry := range entries {
		fn := entry.fn
		if err := b.guard(func() error {
			_, callErr := fn(goja.Undefined(), payload)
			return callErr
		}); err != nil {
			// Handler failures are contained and reported, never
			// propagated to the event bridge.
			b.fail("event:"+event, err)
			if fatalErr(err) {
				return
			}
		}
	}
}

func (b *Box) runCommand(env transport.Envelope) {
	fn, ok := b.commands[env.Method]
	if !ok {
		return
	}

	var args []goja.Value
	if env.Data != nil {
		if raw, ok := env.Data["args"].([]interface{}); ok {
			for _, a := range raw {
				args = append(args, b.vm.ToValue(a))
			}
		}
	}

	if err := b.guard(func() error {
		_, callErr := fn(goja.Undefined(), args...)
		return callErr
	}); err != nil {
		b.fail("command:"+env.Method, err)
	}
}

func (b *Box) settle(env transport.Envelope) {
	b.pendingMu.Lock()
	pc, ok := b.pending[env.CallID]
	if ok {
		delete(b.pending, env.CallID)
	}
	b.pendingMu.Unlock()
	if !ok {
		return
	}

	if env.Error != "" {
		_ = pc.reject(b.vm.NewGoError(errors.New(env.Error)))
		return
	}
	_ = pc.resolve(env.Result)
}

// settleThenable invokes ok once v (a possible promise) fulfills, or
// fail with the rejection reason. Non-thenable values complete
// immediately.
func (b *Box) settleThenable(v goja.Value, ok func(), fail func(reason string)) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		ok()
		return
	}
	obj, isObj := v.(*goja.Object)
	if !isObj {
		ok()
		return
	}
	thenFn, isFn := goja.AssertFunction(obj.Get("then"))
	if !isFn {
		ok()
		return
	}

	onFulfilled := b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		ok()
		return goja.Undefined()
	})
	onRejected := b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		reason := "promise rejected"
		if len(call.Arguments) > 0 {
			reason = call.Arguments[0].String()
		}
		fail(reason)
		return goja.Undefined()
	})

	if _, err := thenFn(obj, onFulfilled, onRejected); err != nil {
		fail(err.Error())
	}
}

// fail reports an evaluation failure. Timeouts and disposal interrupts
// are fatal; ordinary throws inside handlers are contained.
func (b *Box) fail(phase string, err error) {
	b.sendError(err.Error(), fatalErr(err), phase)
}

func fatalErr(err error) bool {
	var interrupted *goja.InterruptedError
	return errors.As(err, &interrupted)
}

func (b *Box) send(env transport.Envelope) {
	if b.closing.Load() {
		return
	}
	_ = b.conn.Send(env)
}

func (b *Box) sendError(message string, fatal bool, phase string) {
	b.send(transport.Envelope{
		Type:  transport.KindError,
		Error: message,
		Data: map[string]interface{}{
			"fatal": fatal,
			"phase": phase,
		},
	})
}

// sendLog never blocks; diagnostics are droppable.
func (b *Box) sendLog(level, message string) {
	if b.closing.Load() {
		return
	}
	b.conn.TrySend(transport.Envelope{
		Type: transport.KindLog,
		Data: map[string]interface{}{
			"level":   level,
			"message": message,
		},
	})
}
