package common

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

const (
	linkModeLink   = "link"
	linkModeReturn = "return"

	linkTypeStatic  = "static"
	linkTypeDynamic = "dynamic"
)

// errLinkCallTimeout is what catch nodes see when no return arrives in time.
var errLinkCallTimeout = rwerrors.New("timeout")

// resolveLinkIns looks up link in nodes by id, in the flow first and then
// across the engine.
func resolveLinkIns(flow *runtime.Flow, owner model.ElementID, ids []model.ElementID) ([]runtime.Node, error) {
	targets := make([]runtime.Node, 0, len(ids))
	for _, id := range ids {
		target, ok := flow.FindNode(id)
		if !ok {
			return nil, rwerrors.BadFlowsJSON("node %s links to unknown node %s", owner, id)
		}
		if target.Base().Type() != runtime.TypeLinkIn {
			return nil, rwerrors.BadFlowsJSON("node %s links to %s, which is a %s", owner, id, target.Base().Type())
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// sendToAll delivers msg to every target. The first target gets msg itself.
func sendToAll(ctx context.Context, targets []runtime.Node, msg *model.Msg) error {
	msgs := make([]*model.Msg, len(targets))
	for i := range targets {
		if i == 0 {
			msgs[i] = msg
		} else {
			msgs[i] = msg.Clone()
		}
	}
	for i, target := range targets {
		if target.Base().Disabled() {
			continue
		}
		if err := target.Base().InjectMsg(ctx, msgs[i]); err != nil {
			return err
		}
	}
	return nil
}

type linkOutConfig struct {
	Mode  string            `json:"mode"`
	Links []model.ElementID `json:"links"`
}

// linkOutNode forwards messages to link in nodes, or in return mode sends them
// back to the link call node that is waiting for them.
type linkOutNode struct {
	*runtime.FlowNode
	mode    string
	targets []runtime.Node
}

func newLinkOutNode(flow *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	var c linkOutConfig
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	n := &linkOutNode{FlowNode: base, mode: c.Mode}
	switch c.Mode {
	case "", linkModeLink:
		n.mode = linkModeLink
		targets, err := resolveLinkIns(flow, cfg.ID, c.Links)
		if err != nil {
			return nil, err
		}
		n.targets = targets
	case linkModeReturn:
	default:
		return nil, rwerrors.BadFlowsJSON("link out node %s: unknown mode %q", cfg.ID, c.Mode)
	}
	return n, nil
}

func (n *linkOutNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		if n.mode == linkModeLink {
			return sendToAll(ctx, n.targets, msg)
		}
		frame, ok := msg.PopLinkFrame()
		if !ok {
			return rwerrors.ErrLinkCallStackEmpty
		}
		return n.Engine().ReturnLinkMsg(ctx, frame.LinkCallNodeID, frame.EventID, msg)
	})
}

type linkCallConfig struct {
	LinkType string            `json:"linkType"`
	Links    []model.ElementID `json:"links"`
	Timeout  any               `json:"timeout"`
}

type pendingCall struct {
	msg   *model.Msg
	timer *time.Timer
}

// linkCallNode sends a message to link in nodes and waits for a return-mode
// link out to bring it back, or for the timeout to report an error.
type linkCallNode struct {
	*runtime.FlowNode
	dynamic bool
	targets []runtime.Node
	timeout time.Duration

	seq     atomic.Uint64
	mu      sync.Mutex
	runCtx  context.Context
	pending map[model.ElementID]*pendingCall
}

func newLinkCallNode(flow *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	var c linkCallConfig
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	n := &linkCallNode{
		FlowNode: base,
		timeout:  flow.Engine().Config().LinkCallTimeout,
		pending:  make(map[model.ElementID]*pendingCall),
	}
	if secs, ok := model.ToFloat(c.Timeout); ok && secs > 0 {
		n.timeout = time.Duration(secs * float64(time.Second))
	}
	switch c.LinkType {
	case "", linkTypeStatic:
		targets, err := resolveLinkIns(flow, cfg.ID, c.Links)
		if err != nil {
			return nil, err
		}
		n.targets = targets
	case linkTypeDynamic:
		n.dynamic = true
	default:
		return nil, rwerrors.BadFlowsJSON("link call node %s: unknown link type %q", cfg.ID, c.LinkType)
	}
	return n, nil
}

func (n *linkCallNode) Run(ctx context.Context) {
	n.mu.Lock()
	n.runCtx = ctx
	n.mu.Unlock()

	runtime.RunUOWLoop(ctx, n.FlowNode, n.call)

	n.mu.Lock()
	defer n.mu.Unlock()
	for id, p := range n.pending {
		p.timer.Stop()
		delete(n.pending, id)
	}
}

func (n *linkCallNode) call(ctx context.Context, msg *model.Msg) error {
	targets := n.targets
	if n.dynamic {
		target, err := n.dynamicTarget(msg)
		if err != nil {
			return err
		}
		targets = []runtime.Node{target}
	}

	eventID := model.ElementID(n.seq.Add(1))
	msg.PushLinkFrame(model.LinkCallFrame{
		EventID:        eventID,
		FlowID:         n.Flow().ID(),
		LinkCallNodeID: n.ID(),
	})

	n.mu.Lock()
	n.pending[eventID] = &pendingCall{
		msg:   msg.Clone(),
		timer: time.AfterFunc(n.timeout, func() { n.expire(eventID) }),
	}
	n.mu.Unlock()

	return sendToAll(ctx, targets, msg)
}

// dynamicTarget resolves msg.target as a link in id or name.
func (n *linkCallNode) dynamicTarget(msg *model.Msg) (runtime.Node, error) {
	raw, _ := msg.Get("target")
	ref, ok := raw.(string)
	if !ok || ref == "" {
		return nil, rwerrors.InvalidData("link call %s: msg.target must name a link in node", n.ID())
	}
	engine := n.Engine()
	var target runtime.Node
	if id, err := model.ParseElementID(ref); err == nil {
		target, _ = engine.FindFlowNodeByID(id)
	}
	if target == nil {
		t, err := engine.FindFlowNodeByName(ref)
		if err != nil {
			return nil, err
		}
		target = t
	}
	if target.Base().Type() != runtime.TypeLinkIn {
		return nil, rwerrors.InvalidData("link call %s: target %q is not a link in node", n.ID(), ref)
	}
	return target, nil
}

// ReturnLinkMsg completes a pending call and sends msg out of port 0.
func (n *linkCallNode) ReturnLinkMsg(ctx context.Context, eventID model.ElementID, msg *model.Msg) error {
	n.mu.Lock()
	p, ok := n.pending[eventID]
	if ok {
		p.timer.Stop()
		delete(n.pending, eventID)
	}
	n.mu.Unlock()
	if !ok {
		return rwerrors.NotFound("link call %s has no pending event %s", n.ID(), eventID)
	}
	return n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg})
}

func (n *linkCallNode) expire(eventID model.ElementID) {
	n.mu.Lock()
	p, ok := n.pending[eventID]
	if ok {
		delete(n.pending, eventID)
	}
	ctx := n.runCtx
	n.mu.Unlock()
	if !ok || ctx == nil || ctx.Err() != nil {
		return
	}

	p.msg.PopLinkFrame()
	if !n.ReportError(ctx, p.msg, errLinkCallTimeout) {
		n.Logger().Warn("Link call timed out",
			zap.String("msg_id", p.msg.ID.String()),
			zap.Duration("timeout", n.timeout))
	}
}
