package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/pkg/contextstore"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
)

// Node is a scheduled flow node. Run owns the node goroutine and returns once
// ctx is cancelled.
type Node interface {
	Base() *FlowNode
	Run(ctx context.Context)
}

// GlobalNode is a configuration node living outside any flow.
type GlobalNode interface {
	ID() model.ElementID
	Name() string
	Type() string
	Run(ctx context.Context)
}

// Triggerable nodes can be fired without an inbound message, like the
// button of an inject node.
type Triggerable interface {
	Trigger(ctx context.Context) error
}

// LinkReturnReceiver is implemented by link call nodes to accept messages
// returned by a return-mode link out.
type LinkReturnReceiver interface {
	ReturnLinkMsg(ctx context.Context, eventID model.ElementID, msg *model.Msg) error
}

// NodeError describes a failure of one node while processing a message.
type NodeError struct {
	NodeID   model.ElementID
	NodeType string
	NodeName string
	Cause    error
}

func (e *NodeError) Error() string {
	name := e.NodeName
	if name == "" {
		name = e.NodeType
	}
	return fmt.Sprintf("node %s (%s, %s): %v", name, e.NodeType, e.NodeID, e.Cause)
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}

// PortWire is one resolved output connection: the send side of a node inbound
// channel or of a subflow output forwarding channel.
type PortWire struct {
	TargetID model.ElementID
	ch       chan<- *model.Msg
}

// Port is the ordered wires of one node output.
type Port struct {
	Wires []PortWire
}

// EventKind selects an observation stream of a node.
type EventKind int

const (
	EventReceived EventKind = iota
	EventCompleted
	EventErrored
)

// FlowNode is the runtime state shared by every flow node: identity, inbound
// channel, resolved output ports and the links to its flow, group and context.
type FlowNode struct {
	id       model.ElementID
	name     string
	typ      string
	disabled bool

	config  *flowsjson.NodeConfig
	flow    *Flow
	group   *Group
	env     *EnvStore
	context *contextstore.Context
	logger  *zap.Logger

	inbound chan *model.Msg
	ports   []Port

	obsMu     sync.RWMutex
	observers map[EventKind]map[int]chan *model.Msg
	nextObs   int

	capMu   sync.Mutex
	capture *uowCapture
}

// uowCapture records the first delivery of the message a unit of work is
// processing, as it was when it left the node.
type uowCapture struct {
	msgID model.ElementID
	out   *model.Msg
}

func (n *FlowNode) ID() model.ElementID            { return n.id }
func (n *FlowNode) Name() string                   { return n.name }
func (n *FlowNode) Type() string                   { return n.typ }
func (n *FlowNode) Disabled() bool                 { return n.disabled }
func (n *FlowNode) Flow() *Flow                    { return n.flow }
func (n *FlowNode) Engine() *Engine                { return n.flow.engine }
func (n *FlowNode) Group() *Group                  { return n.group }
func (n *FlowNode) Env() *EnvStore                 { return n.env }
func (n *FlowNode) Context() *contextstore.Context { return n.context }
func (n *FlowNode) Logger() *zap.Logger            { return n.logger }
func (n *FlowNode) Ports() []Port                  { return n.ports }

// Config returns the configuration the node was built from.
func (n *FlowNode) Config() *flowsjson.NodeConfig { return n.config }

// Base lets a bare FlowNode satisfy part of Node for embedding types.
func (n *FlowNode) Base() *FlowNode { return n }

// InjectMsg delivers msg to this node's inbound channel.
func (n *FlowNode) InjectMsg(ctx context.Context, msg *model.Msg) error {
	select {
	case n.inbound <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: inject into %s: %v", rwerrors.ErrTaskCancelled, n.id, ctx.Err())
	}
}

// RecvMsg waits for the next inbound message.
func (n *FlowNode) RecvMsg(ctx context.Context) (*model.Msg, error) {
	select {
	case msg := <-n.inbound:
		n.broadcast(EventReceived, msg)
		return msg, nil
	case <-ctx.Done():
		return nil, rwerrors.ErrTaskCancelled
	}
}

// FanOutOne sends env.Msg along every wire of env.Port. The first wire gets
// the message itself, every other wire an independent clone.
func (n *FlowNode) FanOutOne(ctx context.Context, env model.Envelope) error {
	if env.Port < 0 || env.Port >= len(n.ports) {
		return rwerrors.BadArguments("node %s has no output port %d", n.id, env.Port)
	}
	if env.Msg == nil {
		return nil
	}
	n.captureOutgoing(env.Msg)
	wires := n.ports[env.Port].Wires
	if len(wires) == 0 {
		return nil
	}
	msgs := make([]*model.Msg, len(wires))
	msgs[0] = env.Msg
	for i := 1; i < len(wires); i++ {
		msgs[i] = env.Msg.Clone()
	}
	for i, w := range wires {
		select {
		case w.ch <- msgs[i]:
		case <-ctx.Done():
			return rwerrors.ErrTaskCancelled
		}
	}
	return nil
}

func (n *FlowNode) beginCapture(msgID model.ElementID) {
	n.capMu.Lock()
	n.capture = &uowCapture{msgID: msgID}
	n.capMu.Unlock()
}

// endCapture stops recording and returns the captured message, if any.
func (n *FlowNode) endCapture() *model.Msg {
	n.capMu.Lock()
	defer n.capMu.Unlock()
	c := n.capture
	n.capture = nil
	if c == nil {
		return nil
	}
	return c.out
}

func (n *FlowNode) captureOutgoing(msg *model.Msg) {
	n.capMu.Lock()
	defer n.capMu.Unlock()
	if n.capture != nil && n.capture.out == nil && n.capture.msgID == msg.ID {
		n.capture.out = msg.Clone()
	}
}

// FanOutMany sends several envelopes in order.
func (n *FlowNode) FanOutMany(ctx context.Context, envs []model.Envelope) error {
	for _, env := range envs {
		if err := n.FanOutOne(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// NotifyUOWCompleted tells scoped complete nodes that msg was processed.
func (n *FlowNode) NotifyUOWCompleted(ctx context.Context, msg *model.Msg) {
	n.flow.NotifyNodeUOWCompleted(ctx, n.id, msg)
	n.broadcast(EventCompleted, msg)
}

// ReportError routes err to catch nodes and reports whether one handled it.
func (n *FlowNode) ReportError(ctx context.Context, msg *model.Msg, err error) bool {
	n.broadcast(EventErrored, msg)
	return n.flow.HandleError(ctx, n, msg, err)
}

// GetSetting resolves an environment setting as seen from this node.
func (n *FlowNode) GetSetting(name string) (any, bool) {
	switch name {
	case EnvNodeID:
		return n.id.String(), true
	case EnvNodeName:
		return n.name, true
	case EnvNodePath:
		return n.flow.path() + "/" + n.id.String(), true
	}
	if strings.HasPrefix(name, parentEnvPrefix) {
		return n.flow.GetSetting(name)
	}
	return n.env.Get(name)
}

// Subscribe observes the messages of one event kind. Delivery is best
// effort: a slow observer misses messages instead of blocking the node.
func (n *FlowNode) Subscribe(kind EventKind) (<-chan *model.Msg, func()) {
	ch := make(chan *model.Msg, 16)
	n.obsMu.Lock()
	if n.observers == nil {
		n.observers = make(map[EventKind]map[int]chan *model.Msg)
	}
	if n.observers[kind] == nil {
		n.observers[kind] = make(map[int]chan *model.Msg)
	}
	id := n.nextObs
	n.nextObs++
	n.observers[kind][id] = ch
	n.obsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.obsMu.Lock()
			delete(n.observers[kind], id)
			n.obsMu.Unlock()
		})
	}
}

func (n *FlowNode) hasObservers(kind EventKind) bool {
	n.obsMu.RLock()
	defer n.obsMu.RUnlock()
	return len(n.observers[kind]) > 0
}

func (n *FlowNode) broadcast(kind EventKind, msg *model.Msg) {
	if msg == nil {
		return
	}
	n.obsMu.RLock()
	defer n.obsMu.RUnlock()
	for _, ch := range n.observers[kind] {
		select {
		case ch <- msg.Clone():
		default:
		}
	}
}

// GlobalNodeBase carries the identity of a global node.
type GlobalNodeBase struct {
	id     model.ElementID
	name   string
	typ    string
	engine *Engine
	logger *zap.Logger
}

// NewGlobalNodeBase prepares the shared state of a global node.
func NewGlobalNodeBase(engine *Engine, id model.ElementID, name, typ string) GlobalNodeBase {
	return GlobalNodeBase{
		id:     id,
		name:   name,
		typ:    typ,
		engine: engine,
		logger: engine.logger.With(
			zap.String("node_id", id.String()),
			zap.String("node_type", typ),
			zap.String("node_name", name)),
	}
}

func (b *GlobalNodeBase) ID() model.ElementID { return b.id }
func (b *GlobalNodeBase) Name() string        { return b.name }
func (b *GlobalNodeBase) Type() string        { return b.typ }
func (b *GlobalNodeBase) Engine() *Engine     { return b.engine }
func (b *GlobalNodeBase) Logger() *zap.Logger { return b.logger }
