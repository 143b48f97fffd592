package common

import (
	"context"

	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

// unknownFlowNode stands in for a node type nothing is registered for. It
// drains its input so that upstream nodes never block on it.
type unknownFlowNode struct {
	*runtime.FlowNode
}

func newUnknownFlowNode(_ *runtime.Flow, base *runtime.FlowNode, _ *flowsjson.NodeConfig) (runtime.Node, error) {
	return &unknownFlowNode{FlowNode: base}, nil
}

func (n *unknownFlowNode) Run(ctx context.Context) {
	for {
		if _, err := n.RecvMsg(ctx); err != nil {
			return
		}
	}
}

type unknownGlobalNode struct {
	runtime.GlobalNodeBase
}

func newUnknownGlobalNode(engine *runtime.Engine, cfg *flowsjson.GlobalNodeConfig) (runtime.GlobalNode, error) {
	return &unknownGlobalNode{GlobalNodeBase: runtime.NewGlobalNodeBase(engine, cfg.ID, cfg.Name, cfg.Type)}, nil
}

func (n *unknownGlobalNode) Run(ctx context.Context) {
	<-ctx.Done()
}
