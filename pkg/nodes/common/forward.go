package common

import (
	"context"

	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

// forwardNode sends every message it receives out of port 0. It backs the
// complete, catch, junction and link in types, whose only work happens in
// the runtime that delivers messages to them.
type forwardNode struct {
	*runtime.FlowNode
}

func newForwardNode(_ *runtime.Flow, base *runtime.FlowNode, _ *flowsjson.NodeConfig) (runtime.Node, error) {
	return &forwardNode{FlowNode: base}, nil
}

func (n *forwardNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		return n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg})
	})
}
