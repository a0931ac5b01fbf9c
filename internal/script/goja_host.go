// Package script is the embedded-scripting collaborator: it implements
// tracker.ScriptHost over a goja ECMAScript runtime, standing in for the
// original engine's embedded Lua ("given a name and string arguments,
// return an integer or failure" per spec §6's scripting ABI).
package script

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/gitrdm/trackercore/pkg/tracker"
)

// NativeFunc is a Go-implemented predicate, checked before any script-defined
// function of the same name.
type NativeFunc func(args []string) (tracker.ScriptResult, error)

// Backchannel is the explicit handle a registered native predicate may use
// to query the tracker back, per the "Recursion stack" design note
// preferring an explicit handle over thread-local state.
type Backchannel interface {
	IsReachableLocation(id string) (tracker.Level, error)
	IsReachableSection(path string) (tracker.Level, error)
}

// GojaHost implements tracker.ScriptHost: name resolves first against
// natives, then against a top-level function exported by a loaded script.
type GojaHost struct {
	log     *zap.SugaredLogger
	vm      *goja.Runtime
	natives map[string]NativeFunc
}

// NewGojaHost returns a host that, when back is non-nil, has one predicate
// pre-registered, "is_reachable", bridging back into back; with a nil back
// no predicate is pre-registered.
func NewGojaHost(log *zap.SugaredLogger, back Backchannel) *GojaHost {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &GojaHost{log: log, vm: goja.New(), natives: make(map[string]NativeFunc)}
	if back != nil {
		h.RegisterNative("is_reachable", func(args []string) (tracker.ScriptResult, error) {
			return isReachable(back, args)
		})
	}
	return h
}

func isReachable(back Backchannel, args []string) (tracker.ScriptResult, error) {
	if len(args) == 0 {
		return tracker.ScriptResult{}, fmt.Errorf("is_reachable: missing path argument")
	}
	lvl, err := back.IsReachableSection(args[0])
	if err != nil {
		lvl, err = back.IsReachableLocation(args[0])
	}
	if err != nil {
		return tracker.ScriptResult{}, err
	}
	return tracker.ScriptResult{Bool: lvl != tracker.LevelNone, IsBool: true}, nil
}

// RegisterNative binds name to a Go-native predicate.
func (h *GojaHost) RegisterNative(name string, fn NativeFunc) {
	h.natives[name] = fn
}

// LoadSource evaluates src in the host's runtime, making any top-level
// function it defines callable by name. label identifies src in error
// messages only.
func (h *GojaHost) LoadSource(label, src string) error {
	if _, err := h.vm.RunString(src); err != nil {
		return fmt.Errorf("script %s: %w", label, err)
	}
	return nil
}

// Call implements tracker.ScriptHost.
func (h *GojaHost) Call(name string, args []string) (tracker.ScriptResult, error) {
	if fn, ok := h.natives[name]; ok {
		return fn(args)
	}

	v := h.vm.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return tracker.ScriptResult{}, fmt.Errorf("script: predicate %q not found", name)
	}
	callable, ok := goja.AssertFunction(v)
	if !ok {
		return tracker.ScriptResult{}, fmt.Errorf("script: %q is not a function", name)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = h.vm.ToValue(a)
	}
	result, err := callable(goja.Undefined(), jsArgs...)
	if err != nil {
		return tracker.ScriptResult{}, fmt.Errorf("script: %q: %w", name, err)
	}
	return exportResult(result), nil
}

func exportResult(v goja.Value) tracker.ScriptResult {
	switch n := v.Export().(type) {
	case bool:
		return tracker.ScriptResult{Bool: n, IsBool: true}
	case int64:
		return tracker.ScriptResult{Number: int(n)}
	case float64:
		return tracker.ScriptResult{Number: int(n)}
	default:
		return tracker.ScriptResult{Number: 0}
	}
}
