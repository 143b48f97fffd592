package function

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ScriptErrorType categorises failures of a user script.
type ScriptErrorType string

const (
	ScriptErrorSyntax   ScriptErrorType = "syntax_error"
	ScriptErrorRuntime  ScriptErrorType = "runtime_error"
	ScriptErrorTimeout  ScriptErrorType = "timeout_error"
	ScriptErrorInternal ScriptErrorType = "internal_error"
)

// ScriptError is a failure raised while compiling or running a function script.
type ScriptError struct {
	Type    ScriptErrorType
	Message string
	Line    int
	Column  int
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, column %d)", e.Message, e.Line, e.Column)
	}
	return e.Message
}

// wrapScriptError converts what goja returns into a ScriptError.
func wrapScriptError(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *ScriptError:
		return e
	case *goja.InterruptedError:
		return &ScriptError{Type: ScriptErrorTimeout, Message: fmt.Sprintf("script interrupted: %v", e.Value())}
	case *goja.CompilerSyntaxError:
		return &ScriptError{Type: ScriptErrorSyntax, Message: e.Error()}
	case *goja.Exception:
		return exceptionError(e)
	default:
		return &ScriptError{Type: ScriptErrorInternal, Message: err.Error()}
	}
}

// exceptionError prefers the message property of a thrown Error object.
func exceptionError(exc *goja.Exception) *ScriptError {
	se := &ScriptError{Type: ScriptErrorRuntime, Message: exc.Error()}
	if v := exc.Value(); v != nil {
		if obj, ok := v.(*goja.Object); ok {
			if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
				se.Message = m.String()
			}
		} else if !goja.IsUndefined(v) && !goja.IsNull(v) {
			se.Message = v.String()
		}
	}
	if strings.Contains(strings.ToLower(se.Message), "syntaxerror") {
		se.Type = ScriptErrorSyntax
	}
	return se
}

// disabledGlobals are host facilities a function script must not reach.
var disabledGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"__dirname",
	"__filename",
	"setImmediate",
	"clearImmediate",
}

func applySandbox(vm *goja.Runtime) error {
	for _, name := range disabledGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// normalize deep copies a value exported from the VM into plain JSON-like
// Go values: integers become float64 and every container is fresh.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// deadline interrupts a script run once its timeout elapses. A timer that
// fires after stop leaves the VM alone, so the next run starts clean.
type deadline struct {
	vm    *goja.Runtime
	timer *time.Timer

	mu      sync.Mutex
	stopped bool
}

func startDeadline(vm *goja.Runtime, d time.Duration) *deadline {
	dl := &deadline{vm: vm}
	dl.timer = time.AfterFunc(d, dl.fire)
	return dl
}

func (dl *deadline) fire() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if !dl.stopped {
		dl.vm.Interrupt("execution timeout")
	}
}

func (dl *deadline) stop() {
	dl.mu.Lock()
	dl.stopped = true
	dl.mu.Unlock()
	dl.timer.Stop()
	dl.vm.ClearInterrupt()
}
