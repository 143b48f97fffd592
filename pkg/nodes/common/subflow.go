package common

import (
	"context"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

// subflowNode is a subflow instance. Messages it receives enter the input
// port of its subflow; the subflow outputs leave through the node's ports.
type subflowNode struct {
	*runtime.FlowNode
	subflowID model.ElementID
}

func newSubflowNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	id, ok := flowsjson.SubflowInstanceTarget(cfg.Type)
	if !ok {
		return nil, rwerrors.BadFlowsJSON("node %s: bad subflow instance type %q", cfg.ID, cfg.Type)
	}
	return &subflowNode{FlowNode: base, subflowID: id}, nil
}

func (n *subflowNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		return n.Engine().InjectMsgToFlow(ctx, n.subflowID, msg)
	})
}
