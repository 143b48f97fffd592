package common

import (
	"context"

	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

// testOnceNode hands every message to the engine's final message channel,
// where Engine.RunOnce collects it.
type testOnceNode struct {
	*runtime.FlowNode
}

func newTestOnceNode(_ *runtime.Flow, base *runtime.FlowNode, _ *flowsjson.NodeConfig) (runtime.Node, error) {
	return &testOnceNode{FlowNode: base}, nil
}

func (n *testOnceNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		return n.Engine().DeliverFinalMsg(ctx, msg)
	})
}
