package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/nebulaide/backend/internal/transport"
	"github.com/nebulaide/backend/internal/types"
)

// Host event names exposed through the context's on* subscriptions.
const (
	EventTextChanged      = "editor.textChanged"
	EventSelectionChanged = "editor.selectionChanged"
	EventFileOpened       = "file.opened"
	EventFileSaved        = "file.saved"
	EventFileClosed       = "file.closed"
)

// setupGlobals seeds the global scope for one activation and returns
// the module object whose exports carry activate/deactivate.
func (b *Box) setupGlobals() (*goja.Object, error) {
	if err := b.installConsole(); err != nil {
		return nil, err
	}
	b.installTimers()
	b.installRequire()

	module := b.vm.NewObject()
	exports := b.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := b.vm.Set("module", module); err != nil {
		return nil, err
	}
	if err := b.vm.Set("exports", exports); err != nil {
		return nil, err
	}

	ctx, err := b.buildContext()
	if err != nil {
		return nil, err
	}
	b.ctxObj = ctx

	api, err := b.buildAPI()
	if err != nil {
		return nil, err
	}
	if err := b.vm.Set("api", api); err != nil {
		return nil, err
	}

	return module, nil
}

func (b *Box) exportsOf(module *goja.Object) *goja.Object {
	v := module.Get("exports")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return obj
}

// installConsole replaces console with a proxy that forwards to log and
// error envelopes instead of any real console.
func (b *Box) installConsole() error {
	console := b.vm.NewObject()
	forward := func(level string) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			message := strings.Join(parts, " ")
			if level == "error" {
				b.send(transport.Envelope{
					Type:  transport.KindError,
					Error: message,
					Data:  map[string]interface{}{"fatal": false, "phase": "console"},
				})
			} else {
				b.sendLog(level, message)
			}
			return goja.Undefined()
		}
	}
	for _, level := range []string{"log", "info", "warn", "debug"} {
		if err := console.Set(level, forward(level)); err != nil {
			return err
		}
	}
	if err := console.Set("error", forward("error")); err != nil {
		return err
	}
	return b.vm.Set("console", console)
}

// installTimers stubs out wall-clock scheduling; extensions drive all
// async work through api promises.
func (b *Box) installTimers() {
	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = b.vm.Set("setTimeout", noop)
	_ = b.vm.Set("setInterval", noop)
	_ = b.vm.Set("clearTimeout", noop)
	_ = b.vm.Set("clearInterval", noop)
}

// installRequire exposes the allow-list resolver. The host's real
// module loader is never reachable.
func (b *Box) installRequire() {
	_ = b.vm.Set("require", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(b.vm.NewTypeError("require expects a module name"))
		}
		name := call.Arguments[0].String()
		impl, ok := b.cfg.Modules[name]
		if !ok {
			panic(b.vm.NewTypeError("module %q is not available in the sandbox", name))
		}
		return b.vm.ToValue(impl)
	})
}

// buildContext assembles the synthetic context object handed to
// activate: command registration, event subscriptions and the two
// in-memory state maps.
func (b *Box) buildContext() (*goja.Object, error) {
	ctx := b.vm.NewObject()
	if err := ctx.Set("extensionId", b.id); err != nil {
		return nil, err
	}

	subscriptions := b.vm.NewArray()
	if err := ctx.Set("subscriptions", subscriptions); err != nil {
		return nil, err
	}

	if err := ctx.Set("registerCommand", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(b.vm.NewTypeError("registerCommand expects (id, handler)"))
		}
		id := call.Arguments[0].String()
		fn, ok := goja.AssertFunction(call.Arguments[1])
		if !ok {
			panic(b.vm.NewTypeError("registerCommand handler must be a function"))
		}
		b.commands[id] = fn
		if b.cfg.OnCommandRegistered != nil {
			b.cfg.OnCommandRegistered(id)
		}
		return b.disposable(func() { delete(b.commands, id) })
	}); err != nil {
		return nil, err
	}

	subs := map[string]string{
		"onTextChange":      EventTextChanged,
		"onSelectionChange": EventSelectionChanged,
		"onFileOpen":        EventFileOpened,
		"onFileSave":        EventFileSaved,
		"onFileClose":       EventFileClosed,
	}
	for name, event := range subs {
		event := event
		if err := ctx.Set(name, func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 1 {
				panic(b.vm.NewTypeError("event subscription expects a handler"))
			}
			fn, ok := goja.AssertFunction(call.Arguments[0])
			if !ok {
				panic(b.vm.NewTypeError("event handler must be a function"))
			}
			b.nextSub++
			entry := handlerEntry{id: b.nextSub, fn: fn}
			b.handlers[event] = append(b.handlers[event], entry)
			return b.disposable(func() { b.removeHandler(event, entry.id) })
		}); err != nil {
			return nil, err
		}
	}

	if b.cfg.WorkspaceState != nil {
		if err := ctx.Set("workspaceState", b.stateObject(b.cfg.WorkspaceState)); err != nil {
			return nil, err
		}
	}
	if b.cfg.GlobalState != nil {
		if err := ctx.Set("globalState", b.stateObject(b.cfg.GlobalState)); err != nil {
			return nil, err
		}
	}

	return ctx, nil
}

func (b *Box) removeHandler(event string, id int64) {
	entries := b.handlers[event]
	for i, e := range entries {
		if e.id == id {
			b.handlers[event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// disposable wraps a cleanup closure as a { dispose() } handle.
func (b *Box) disposable(cleanup func()) goja.Value {
	d := b.vm.NewObject()
	disposed := false
	_ = d.Set("dispose", func(call goja.FunctionCall) goja.Value {
		if !disposed {
			disposed = true
			cleanup()
		}
		return goja.Undefined()
	})
	return d
}

func (b *Box) stateObject(state *types.StateMap) *goja.Object {
	obj := b.vm.NewObject()
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		v := state.Get(call.Arguments[0].String())
		if v == nil {
			return goja.Undefined()
		}
		return b.vm.ToValue(v)
	})
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return goja.Undefined()
		}
		state.Set(call.Arguments[0].String(), call.Arguments[1].Export())
		return goja.Undefined()
	})
	_ = obj.Set("keys", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(state.Keys())
	})
	return obj
}

// buildAPI generates the promise-based api object from the granted
// namespace specs. Every method sends an api-call envelope and returns
// a promise settled when the matching api-response arrives.
func (b *Box) buildAPI() (*goja.Object, error) {
	api := b.vm.NewObject()

	namespaces := make([]string, 0, len(b.cfg.API))
	for ns := range b.cfg.API {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	for _, ns := range namespaces {
		nsObj := b.vm.NewObject()
		for _, method := range b.cfg.API[ns] {
			qualified := fmt.Sprintf("%s.%s", ns, method.ID)
			params := method.Parameters
			if err := nsObj.Set(method.ID, func(call goja.FunctionCall) goja.Value {
				return b.apiCall(qualified, params, call)
			}); err != nil {
				return nil, err
			}
		}
		if err := api.Set(ns, nsObj); err != nil {
			return nil, err
		}
	}

	return api, nil
}

func (b *Box) apiCall(method string, params []types.Parameter, call goja.FunctionCall) goja.Value {
	payload := payloadFrom(call.Arguments, params)

	promise, resolve, reject := b.vm.NewPromise()

	b.pendingMu.Lock()
	b.nextCall++
	id := b.nextCall
	b.pending[id] = &pendingCall{resolve: resolve, reject: reject}
	b.pendingMu.Unlock()

	env := transport.Envelope{
		Type:   transport.KindAPICall,
		CallID: id,
		Method: method,
		Data:   payload,
	}
	if err := b.conn.Send(env); err != nil {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
		_ = reject(b.vm.NewGoError(err))
	}

	return b.vm.ToValue(promise)
}

// payloadFrom maps JS call arguments onto the method's named
// parameters. A single plain-object argument is taken as the payload
// itself; otherwise positional arguments are zipped with the declared
// parameter names.
func payloadFrom(args []goja.Value, params []types.Parameter) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	if len(args) == 1 {
		if m, ok := args[0].Export().(map[string]interface{}); ok {
			return m
		}
	}
	out := make(map[string]interface{})
	for i, arg := range args {
		if i >= len(params) {
			break
		}
		out[params[i].Name] = arg.Export()
	}
	return out
}
