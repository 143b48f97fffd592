package runtime

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/pkg/contextstore"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

const (
	parentEnvPrefix = "$parent."

	// maxCatchCount stops a message that keeps failing inside its own catch
	// handlers.
	maxCatchCount = 10
)

type catchEntry struct {
	node     Node
	scope    map[model.ElementID]struct{}
	uncaught bool
}

// Flow runs one tab or one subflow instantiation.
type Flow struct {
	id       model.ElementID
	label    string
	typ      string
	disabled bool
	ordering int

	engine  *Engine
	parent  *Flow
	env     *EnvStore
	context *contextstore.Context
	logger  *zap.Logger
	subflow *subflowState

	groups       map[model.ElementID]*Group
	nodes        map[model.ElementID]Node
	nodesOrdered []Node

	completeNodes map[model.ElementID]Node
	completeIndex map[model.ElementID][]model.ElementID
	catchNodes    []catchEntry

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (f *Flow) ID() model.ElementID            { return f.id }
func (f *Flow) Label() string                  { return f.label }
func (f *Flow) Type() string                   { return f.typ }
func (f *Flow) Disabled() bool                 { return f.disabled }
func (f *Flow) Ordering() int                  { return f.ordering }
func (f *Flow) Engine() *Engine                { return f.engine }
func (f *Flow) Env() *EnvStore                 { return f.env }
func (f *Flow) Context() *contextstore.Context { return f.context }
func (f *Flow) Logger() *zap.Logger            { return f.logger }
func (f *Flow) IsSubflow() bool                { return f.subflow != nil }

// Parent returns the flow hosting the subflow instance node, or nil for tabs.
func (f *Flow) Parent() *Flow { return f.parent }

// Nodes returns the nodes in build order.
func (f *Flow) Nodes() []Node {
	return append([]Node(nil), f.nodesOrdered...)
}

// Group looks up a group of this flow.
func (f *Flow) Group(id model.ElementID) (*Group, bool) {
	g, ok := f.groups[id]
	return g, ok
}

// GetNodeByID looks up a node of this flow.
func (f *Flow) GetNodeByID(id model.ElementID) (Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// GetNodeByName looks up a node of this flow by name.
func (f *Flow) GetNodeByName(name string) (Node, error) {
	var found Node
	for _, n := range f.nodesOrdered {
		if n.Base().name != name {
			continue
		}
		if found != nil {
			return nil, rwerrors.NewError("AMBIGUOUS_NAME", "node name "+name+" in flow "+f.id.String(), rwerrors.ErrAmbiguousName)
		}
		found = n
	}
	if found == nil {
		return nil, rwerrors.NotFound("node named %q in flow %s", name, f.id)
	}
	return found, nil
}

// FindNode resolves id in this flow first, then across the engine.
func (f *Flow) FindNode(id model.ElementID) (Node, bool) {
	if n, ok := f.nodes[id]; ok {
		return n, true
	}
	return f.engine.FindFlowNodeByID(id)
}

// GetSetting resolves an environment setting as seen from the flow.
func (f *Flow) GetSetting(name string) (any, bool) {
	if rest, ok := strings.CutPrefix(name, parentEnvPrefix); ok {
		if parent := f.env.Parent(); parent != nil {
			return parent.Get(rest)
		}
		return nil, false
	}
	return f.env.Get(name)
}

// active reports whether the flow and every flow hosting it are enabled.
func (f *Flow) active() bool {
	for cur := f; cur != nil; cur = cur.parent {
		if cur.disabled {
			return false
		}
	}
	return true
}

func (f *Flow) path() string {
	if f.subflow == nil {
		return f.id.String()
	}
	return f.parent.path() + "/" + f.subflow.instanceID.String()
}

// Start launches the subflow forwarders and every enabled node. Starting a
// started flow is a no-op.
func (f *Flow) Start(parent context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel

	if f.subflow != nil {
		for _, port := range f.subflow.outPorts {
			f.wg.Add(1)
			go func(p *subflowOutPort) {
				defer f.wg.Done()
				f.subflow.forward(ctx, f, p)
			}(port)
		}
	}

	for _, n := range f.nodesOrdered {
		if n.Base().disabled {
			continue
		}
		f.wg.Add(1)
		go f.runNode(ctx, n)
	}
	f.logger.Debug("Flow started", zap.Int("nodes", len(f.nodesOrdered)))
}

func (f *Flow) runNode(ctx context.Context, n Node) {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			base := n.Base()
			base.logger.Error("Node goroutine panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			f.engine.capturePanic(r, base)
		}
	}()
	n.Run(ctx)
}

// Stop cancels every node of the flow and waits for them, bounded by ctx.
func (f *Flow) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = false
	f.cancel()
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.wg.Wait()
	}()
	select {
	case <-done:
		f.logger.Debug("Flow stopped")
		return nil
	case <-ctx.Done():
		f.logger.Warn("Timed out waiting for flow nodes to stop")
		return rwerrors.NewError("TIMEOUT", "stopping flow "+f.id.String(), rwerrors.ErrTimeout)
	}
}

// InjectMsg feeds msg into the input port of a subflow. The first boundary
// target gets msg itself, the others clones.
func (f *Flow) InjectMsg(ctx context.Context, msg *model.Msg) error {
	if f.subflow == nil {
		return rwerrors.InvalidOperation("flow %s is not a subflow", f.id)
	}
	targets := f.subflow.inputs
	for i, ch := range targets {
		m := msg
		if i > 0 {
			m = msg.Clone()
		}
		select {
		case ch <- m:
		case <-ctx.Done():
			return rwerrors.ErrTaskCancelled
		}
	}
	return nil
}

// NotifyNodeUOWCompleted injects a clone of msg into every complete node
// scoped to emitterID.
func (f *Flow) NotifyNodeUOWCompleted(ctx context.Context, emitterID model.ElementID, msg *model.Msg) {
	for _, id := range f.completeIndex[emitterID] {
		if id == emitterID {
			continue
		}
		complete := f.completeNodes[id]
		if complete.Base().disabled {
			continue
		}
		if err := complete.Base().InjectMsg(ctx, msg.Clone()); err != nil {
			if !rwerrors.IsCancelled(err) {
				f.logger.Warn("Failed to notify complete node", zap.String("complete_id", id.String()), zap.Error(err))
			}
			return
		}
	}
}

// HandleError delivers err to the catch nodes that watch reporter and reports
// whether any did. Catch nodes scoped to the reporter take it; flow-wide
// catch nodes only when none is scoped to it, and catch nodes set to
// "uncaught" only when neither kind exists.
// A subflow without a taker hands the error to its parent flow, reported by
// the subflow instance node.
func (f *Flow) HandleError(ctx context.Context, reporter *FlowNode, msg *model.Msg, err error) bool {
	if !f.hasCatchChain() {
		return false
	}
	if msg == nil {
		msg = model.NewMsg(reporter.id)
	}

	var targeted, flowWide, uncaught []Node
	for _, c := range f.catchNodes {
		if c.node.Base() == reporter || c.node.Base().disabled {
			continue
		}
		switch {
		case c.scope != nil:
			if _, ok := c.scope[reporter.id]; ok {
				targeted = append(targeted, c.node)
			}
		case c.uncaught:
			uncaught = append(uncaught, c.node)
		default:
			flowWide = append(flowWide, c.node)
		}
	}
	takers := targeted
	if len(takers) == 0 {
		takers = flowWide
	}
	if len(takers) == 0 {
		takers = uncaught
	}

	if len(takers) == 0 {
		if f.subflow != nil && f.subflow.instance != nil {
			instance := f.subflow.instance.Base()
			return instance.flow.HandleError(ctx, instance, msg, err)
		}
		return false
	}

	count := errorCount(msg, reporter.id)
	if count > maxCatchCount {
		reporter.logger.Error("Message exceeded maximum number of catches",
			zap.String("msg_id", msg.ID.String()),
			zap.Error(err))
		return false
	}

	for _, taker := range takers {
		m := msg.Clone()
		m.Set("error", map[string]any{
			"message": err.Error(),
			"source": map[string]any{
				"id":    reporter.id.String(),
				"type":  reporter.typ,
				"name":  reporter.name,
				"count": float64(count),
			},
		})
		if injectErr := taker.Base().InjectMsg(ctx, m); injectErr != nil {
			if !rwerrors.IsCancelled(injectErr) {
				f.logger.Warn("Failed to deliver error to catch node",
					zap.String("catch_id", taker.Base().id.String()),
					zap.Error(injectErr))
			}
			break
		}
	}
	return true
}

func errorCount(msg *model.Msg, reporterID model.ElementID) int {
	source, ok := msg.GetNav("error.source")
	if !ok {
		return 1
	}
	m, ok := source.(map[string]any)
	if !ok || m["id"] != reporterID.String() {
		return 1
	}
	c, ok := model.ToFloat(m["count"])
	if !ok {
		return 1
	}
	return int(c) + 1
}

// hasCatchChain reports whether an error raised here can reach a catch node.
func (f *Flow) hasCatchChain() bool {
	for cur := f; cur != nil; cur = cur.parent {
		if len(cur.catchNodes) > 0 {
			return true
		}
		if cur.subflow == nil {
			break
		}
	}
	return false
}

// observes reports whether anything may look at the messages node processes
// after they have been handed downstream.
func (f *Flow) observes(node *FlowNode) bool {
	if len(f.completeIndex[node.id]) > 0 || f.hasCatchChain() {
		return true
	}
	return node.hasObservers(EventCompleted) || node.hasObservers(EventErrored)
}
