// Package function implements the nodes that transform messages: the
// JavaScript function node and the change, switch, range and rbe nodes.
package function

import (
	"context"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/pkg/contextstore"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

type functionConfig struct {
	Func       string `json:"func"`
	Initialize string `json:"initialize"`
	Finalize   string `json:"finalize"`
	Outputs    any    `json:"outputs"`
	Timeout    any    `json:"timeout"`
}

const scriptParams = "msg, node, context, flow, global, env"

// functionNode runs a user script for every message. The VM belongs to the
// node goroutine; only the timeout timer touches it from elsewhere, through
// Interrupt.
type functionNode struct {
	*runtime.FlowNode
	timeout time.Duration

	vm         *goja.Runtime
	main       goja.Callable
	initialize goja.Callable
	finalize   goja.Callable
	args       []goja.Value

	// ctx and current belong to the message being processed, for node.send
	// and the context accessors.
	ctx     context.Context
	current model.ElementID
}

func newFunctionNode(flow *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	var c functionConfig
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	n := &functionNode{
		FlowNode: base,
		timeout:  flow.Engine().Config().FunctionTimeout,
		vm:       goja.New(),
		ctx:      context.Background(),
	}
	if secs, ok := model.ToFloat(c.Timeout); ok && secs > 0 {
		n.timeout = time.Duration(secs * float64(time.Second))
	}
	if err := applySandbox(n.vm); err != nil {
		return nil, err
	}

	var err error
	if n.main, err = n.compile("func", c.Func); err != nil {
		return nil, rwerrors.BadFlowsJSON("function node %s: %v", cfg.ID, err)
	}
	if c.Initialize != "" {
		if n.initialize, err = n.compile("initialize", c.Initialize); err != nil {
			return nil, rwerrors.BadFlowsJSON("function node %s initialize: %v", cfg.ID, err)
		}
	}
	if c.Finalize != "" {
		if n.finalize, err = n.compile("finalize", c.Finalize); err != nil {
			return nil, rwerrors.BadFlowsJSON("function node %s finalize: %v", cfg.ID, err)
		}
	}

	n.args = []goja.Value{
		goja.Undefined(),
		n.nodeObject(),
		n.contextObject(base.Context()),
		n.contextObject(base.Flow().Context()),
		n.contextObject(base.Engine().GlobalContext()),
		n.envObject(),
	}
	return n, nil
}

func (n *functionNode) compile(name, body string) (goja.Callable, error) {
	src := "(function(" + scriptParams + ") {\n" + body + "\n})"
	prog, err := goja.Compile(n.ID().String()+"/"+name, src, false)
	if err != nil {
		return nil, wrapScriptError(err)
	}
	v, err := n.vm.RunProgram(prog)
	if err != nil {
		return nil, wrapScriptError(err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &ScriptError{Type: ScriptErrorInternal, Message: "script did not compile to a function"}
	}
	return fn, nil
}

func (n *functionNode) Run(ctx context.Context) {
	if n.initialize != nil {
		n.ctx = ctx
		if _, err := n.invoke(n.initialize, goja.Undefined()); err != nil {
			n.Logger().Error("Function initialize failed", zap.Error(err))
		}
	}

	runtime.RunUOWLoop(ctx, n.FlowNode, n.process)

	if n.finalize != nil {
		n.ctx = context.Background()
		if _, err := n.invoke(n.finalize, goja.Undefined()); err != nil {
			n.Logger().Error("Function finalize failed", zap.Error(err))
		}
	}
}

func (n *functionNode) process(ctx context.Context, msg *model.Msg) error {
	n.ctx = ctx
	n.current = msg.ID
	defer func() { n.current = model.EmptyID }()
	result, err := n.invoke(n.main, n.vm.ToValue(msg.ToMap()))
	if err != nil {
		return err
	}
	envs, err := n.envelopes(msg.ID, result)
	if err != nil {
		return err
	}
	return n.FanOutMany(ctx, envs)
}

// invoke runs fn bounded by the node timeout.
func (n *functionNode) invoke(fn goja.Callable, msg goja.Value) (goja.Value, error) {
	dl := startDeadline(n.vm, n.timeout)
	defer dl.stop()

	args := make([]goja.Value, len(n.args))
	copy(args, n.args)
	args[0] = msg
	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, wrapScriptError(err)
	}
	return v, nil
}

// envelopes turns a script result into deliveries: an object goes to port
// 0, an array maps onto ports and a nested array sends several messages
// from one port. Every message takes the origin id unless origin is empty.
func (n *functionNode) envelopes(origin model.ElementID, result goja.Value) ([]model.Envelope, error) {
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return n.exportEnvelopes(origin, normalize(result.Export()))
}

func (n *functionNode) exportEnvelopes(origin model.ElementID, v any) ([]model.Envelope, error) {
	var envs []model.Envelope
	switch t := v.(type) {
	case nil:
	case map[string]any:
		envs = append(envs, model.Envelope{Port: 0, Msg: n.toMsg(origin, t)})
	case []any:
		for port, item := range t {
			switch it := item.(type) {
			case nil:
			case map[string]any:
				envs = append(envs, model.Envelope{Port: port, Msg: n.toMsg(origin, it)})
			case []any:
				for _, sub := range it {
					m, ok := sub.(map[string]any)
					if !ok {
						if sub == nil {
							continue
						}
						return nil, rwerrors.InvalidData("function returned a %T in output %d", sub, port)
					}
					envs = append(envs, model.Envelope{Port: port, Msg: n.toMsg(origin, m)})
				}
			default:
				return nil, rwerrors.InvalidData("function returned a %T in output %d", item, port)
			}
		}
	default:
		return nil, rwerrors.InvalidData("function must return an object or an array, got %T", v)
	}
	return envs, nil
}

func (n *functionNode) toMsg(origin model.ElementID, body map[string]any) *model.Msg {
	msg := model.MsgFromMap(n.ID(), body)
	if !origin.IsEmpty() {
		msg.ID = origin
	}
	return msg
}

func (n *functionNode) nodeObject() *goja.Object {
	vm := n.vm
	obj := vm.NewObject()
	_ = obj.Set("id", n.ID().String())
	_ = obj.Set("name", n.Name())
	_ = obj.Set("type", n.Type())
	logAt := func(level func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			level("Function log", zap.Any("value", normalize(call.Argument(0).Export())))
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", logAt(n.Logger().Info))
	_ = obj.Set("warn", logAt(n.Logger().Warn))
	_ = obj.Set("error", logAt(n.Logger().Error))
	_ = obj.Set("debug", logAt(n.Logger().Debug))
	_ = obj.Set("send", func(call goja.FunctionCall) goja.Value {
		envs, err := n.exportEnvelopes(n.current, normalize(call.Argument(0).Export()))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if err := n.FanOutMany(n.ctx, envs); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("done", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return obj
}

func (n *functionNode) contextObject(c *contextstore.Context) *goja.Object {
	vm := n.vm
	obj := vm.NewObject()
	storeArg := func(call goja.FunctionCall, i int) string {
		a := call.Argument(i)
		if goja.IsUndefined(a) || goja.IsNull(a) {
			return ""
		}
		return a.String()
	}
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		v, _, err := c.Get(n.ctx, storeArg(call, 1), call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(v)
	})
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		value := normalize(call.Argument(1).Export())
		if err := c.Set(n.ctx, storeArg(call, 2), call.Argument(0).String(), value); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("keys", func(call goja.FunctionCall) goja.Value {
		keys, err := c.Keys(n.ctx, storeArg(call, 0))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(keys)
	})
	return obj
}

func (n *functionNode) envObject() *goja.Object {
	obj := n.vm.NewObject()
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		v, _ := n.GetSetting(call.Argument(0).String())
		return n.vm.ToValue(v)
	})
	return obj
}
