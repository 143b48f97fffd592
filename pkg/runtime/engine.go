package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/pkg/contextstore"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
)

// Engine owns every flow and global node of one loaded document.
type Engine struct {
	cfg      EngineConfig
	registry *Registry
	logger   *zap.Logger
	tracer   trace.Tracer
	hub      *sentry.Hub
	stdout   io.Writer
	contexts *contextstore.Manager
	env      *EnvStore

	flows        []*Flow
	flowsByID    map[model.ElementID]*Flow
	allFlowNodes map[model.ElementID]Node
	globalNodes  []GlobalNode
	globalByID   map[model.ElementID]GlobalNode

	finalMsgs chan *model.Msg

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	globalWG sync.WaitGroup
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	cfg      EngineConfig
	logger   *zap.Logger
	hub      *sentry.Hub
	stdout   io.Writer
	contexts *contextstore.Manager
	loader   []flowsjson.LoaderOption
}

func WithConfig(cfg EngineConfig) Option {
	return func(o *engineOptions) { o.cfg = cfg }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithSentryHub reports unhandled node errors and panics to hub.
func WithSentryHub(hub *sentry.Hub) Option {
	return func(o *engineOptions) { o.hub = hub }
}

// WithStdout sets where console oriented nodes write. Defaults to os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(o *engineOptions) { o.stdout = w }
}

// WithContextManager uses an existing context manager instead of building
// one from the configured stores.
func WithContextManager(m *contextstore.Manager) Option {
	return func(o *engineOptions) { o.contexts = m }
}

// WithLoaderOptions passes options to the flows loader used by
// NewEngineFromJSON and NewEngineFromFile.
func WithLoaderOptions(opts ...flowsjson.LoaderOption) Option {
	return func(o *engineOptions) { o.loader = append(o.loader, opts...) }
}

// NewEngineFromJSON loads a flows document and builds an engine from it.
func NewEngineFromJSON(reg *Registry, data []byte, opts ...Option) (*Engine, error) {
	o := collectOptions(opts)
	doc, err := flowsjson.Load(data, o.loader...)
	if err != nil {
		return nil, err
	}
	return NewEngine(reg, doc, opts...)
}

// NewEngineFromFile loads a flows file and builds an engine from it.
func NewEngineFromFile(reg *Registry, path string, opts ...Option) (*Engine, error) {
	o := collectOptions(opts)
	doc, err := flowsjson.LoadFile(path, o.loader...)
	if err != nil {
		return nil, err
	}
	return NewEngine(reg, doc, opts...)
}

func collectOptions(opts []Option) *engineOptions {
	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewEngine builds every flow and global node of doc. Nothing is started.
func NewEngine(reg *Registry, doc *flowsjson.Document, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, rwerrors.BadArguments("registry cannot be nil")
	}
	if doc == nil {
		return nil, rwerrors.BadArguments("document cannot be nil")
	}
	o := collectOptions(opts)
	cfg, err := o.cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stdout := o.stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	contexts := o.contexts
	if contexts == nil {
		contexts, err = contextstore.NewManagerFromConfig(cfg.DefaultContextStore, cfg.ContextStores, logger)
		if err != nil {
			return nil, err
		}
	}

	e := &Engine{
		cfg:          cfg,
		registry:     reg,
		logger:       logger,
		tracer:       otel.Tracer(cfg.TracerName),
		hub:          o.hub,
		stdout:       stdout,
		contexts:     contexts,
		env:          NewProcessEnvStore(),
		flowsByID:    make(map[model.ElementID]*Flow),
		allFlowNodes: make(map[model.ElementID]Node),
		globalByID:   make(map[model.ElementID]GlobalNode),
		finalMsgs:    make(chan *model.Msg, cfg.FinalMsgQueueCapacity),
	}

	args := cfg.FlowArgs()
	for i := range doc.Flows {
		fc := &doc.Flows[i]
		flow, err := newFlow(e, fc, args)
		if err != nil {
			return nil, fmt.Errorf("failed to build flow %s (%s): %w", fc.ID, fc.Label, err)
		}
		for _, n := range flow.nodesOrdered {
			id := n.Base().id
			if _, dup := e.allFlowNodes[id]; dup {
				return nil, fmt.Errorf("%w: node %s", rwerrors.ErrDuplicateID, id)
			}
			e.allFlowNodes[id] = n
		}
		if _, dup := e.flowsByID[fc.ID]; dup {
			return nil, fmt.Errorf("%w: flow %s", rwerrors.ErrDuplicateID, fc.ID)
		}
		e.flows = append(e.flows, flow)
		e.flowsByID[fc.ID] = flow
	}

	for i := range doc.GlobalNodes {
		gc := &doc.GlobalNodes[i]
		meta, ok := reg.Get(gc.Type)
		if !ok || meta.Kind != KindGlobal {
			logger.Warn("Unknown global node type, the node will do nothing",
				zap.String("node_id", gc.ID.String()),
				zap.String("node_type", gc.Type))
			meta, ok = reg.Get(TypeUnknownGlobal)
			if !ok || meta.Kind != KindGlobal {
				return nil, rwerrors.NotFound("no factory for global node type %q", gc.Type)
			}
		}
		gn, err := meta.GlobalFactory(e, gc)
		if err != nil {
			return nil, fmt.Errorf("failed to build global node %s (%s): %w", gc.ID, gc.Type, err)
		}
		if _, dup := e.globalByID[gc.ID]; dup {
			return nil, fmt.Errorf("%w: global node %s", rwerrors.ErrDuplicateID, gc.ID)
		}
		e.globalNodes = append(e.globalNodes, gn)
		e.globalByID[gc.ID] = gn
	}

	logger.Info("Engine built",
		zap.Int("flows", len(e.flows)),
		zap.Int("nodes", len(e.allFlowNodes)),
		zap.Int("global_nodes", len(e.globalNodes)))
	return e, nil
}

func (e *Engine) Config() EngineConfig                  { return e.cfg }
func (e *Engine) Registry() *Registry                  { return e.registry }
func (e *Engine) Logger() *zap.Logger                  { return e.logger }
func (e *Engine) Contexts() *contextstore.Manager      { return e.contexts }
func (e *Engine) GlobalContext() *contextstore.Context { return e.contexts.Global() }
func (e *Engine) Env() *EnvStore                       { return e.env }
func (e *Engine) Stdout() io.Writer                    { return e.stdout }

// Start opens the context stores and launches global nodes, then flows in
// load order. Starting a started engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.contexts.Open(ctx); err != nil {
		return err
	}
	if err := e.contexts.Clean(ctx, e.activeScopes()); err != nil {
		e.logger.Warn("Failed to clean stale context", zap.Error(err))
	}

	rootCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true

	for _, gn := range e.globalNodes {
		e.globalWG.Add(1)
		go e.runGlobalNode(rootCtx, gn)
	}
	for _, f := range e.flows {
		if !f.active() {
			f.logger.Info("Flow is disabled, not starting")
			continue
		}
		f.Start(rootCtx)
	}
	e.logger.Info("Engine started")
	return nil
}

func (e *Engine) runGlobalNode(ctx context.Context, gn GlobalNode) {
	defer e.globalWG.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Global node panicked",
				zap.String("node_id", gn.ID().String()),
				zap.String("node_type", gn.Type()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			if e.hub != nil {
				e.hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("node.id", gn.ID().String())
					scope.SetTag("node.type", gn.Type())
					e.hub.Recover(r)
				})
			}
		}
	}()
	gn.Run(ctx)
}

// Stop cancels everything, then waits for flows and global nodes, bounded by
// ctx. Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.cancel()
	e.mu.Unlock()

	var firstErr error
	for _, f := range e.flows {
		if err := f.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.globalWG.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = rwerrors.NewError("TIMEOUT", "stopping global nodes", rwerrors.ErrTimeout)
		}
	}

	if err := e.contexts.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	e.logger.Info("Engine stopped")
	return firstErr
}

func (e *Engine) activeScopes() []string {
	scopes := make([]string, 0, len(e.flows)+len(e.allFlowNodes))
	for _, f := range e.flows {
		scopes = append(scopes, f.context.Scope())
		for _, n := range f.nodesOrdered {
			scopes = append(scopes, n.Base().context.Scope())
		}
	}
	return scopes
}

// Flows returns the flows in load order.
func (e *Engine) Flows() []*Flow {
	return append([]*Flow(nil), e.flows...)
}

func (e *Engine) FindFlow(id model.ElementID) (*Flow, bool) {
	f, ok := e.flowsByID[id]
	return f, ok
}

func (e *Engine) FindFlowNodeByID(id model.ElementID) (Node, bool) {
	n, ok := e.allFlowNodes[id]
	return n, ok
}

// FindFlowNodeByName returns the first node named name, searching flows in
// load order. Two nodes of the same flow sharing the name is an error.
func (e *Engine) FindFlowNodeByName(name string) (Node, error) {
	for _, f := range e.flows {
		n, err := f.GetNodeByName(name)
		if err == nil {
			return n, nil
		}
		if !rwerrors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, rwerrors.NotFound("node named %q", name)
}

func (e *Engine) FindGlobalNode(id model.ElementID) (GlobalNode, bool) {
	gn, ok := e.globalByID[id]
	return gn, ok
}

func (e *Engine) GlobalNodes() []GlobalNode {
	return append([]GlobalNode(nil), e.globalNodes...)
}

// InjectMsg delivers msg to the inbound channel of a flow node.
func (e *Engine) InjectMsg(ctx context.Context, nodeID model.ElementID, msg *model.Msg) error {
	n, ok := e.allFlowNodes[nodeID]
	if !ok {
		return rwerrors.NotFound("flow node %s", nodeID)
	}
	return n.Base().InjectMsg(ctx, msg)
}

// InjectMsgToFlow feeds msg into the input port of a subflow flow.
func (e *Engine) InjectMsgToFlow(ctx context.Context, flowID model.ElementID, msg *model.Msg) error {
	f, ok := e.flowsByID[flowID]
	if !ok {
		return rwerrors.NotFound("flow %s", flowID)
	}
	return f.InjectMsg(ctx, msg)
}

// ForwardMsgToLinkIn delivers msg to a link in node.
func (e *Engine) ForwardMsgToLinkIn(ctx context.Context, linkInID model.ElementID, msg *model.Msg) error {
	n, ok := e.allFlowNodes[linkInID]
	if !ok {
		return rwerrors.NotFound("link in node %s", linkInID)
	}
	if n.Base().typ != TypeLinkIn {
		return rwerrors.InvalidOperation("node %s is a %s, not a link in", linkInID, n.Base().typ)
	}
	return n.Base().InjectMsg(ctx, msg)
}

// ReturnLinkMsg hands a returning message back to the link call node that
// pushed the frame.
func (e *Engine) ReturnLinkMsg(ctx context.Context, linkCallID, eventID model.ElementID, msg *model.Msg) error {
	n, ok := e.allFlowNodes[linkCallID]
	if !ok {
		return rwerrors.NotFound("link call node %s", linkCallID)
	}
	receiver, ok := n.(LinkReturnReceiver)
	if !ok {
		return rwerrors.InvalidOperation("node %s (%s) cannot receive link returns", linkCallID, n.Base().typ)
	}
	return receiver.ReturnLinkMsg(ctx, eventID, msg)
}

// TriggerNode fires a node that can run without an inbound message.
func (e *Engine) TriggerNode(ctx context.Context, nodeID model.ElementID) error {
	n, ok := e.allFlowNodes[nodeID]
	if !ok {
		return rwerrors.NotFound("flow node %s", nodeID)
	}
	t, ok := n.(Triggerable)
	if !ok {
		return rwerrors.InvalidOperation("node %s (%s) cannot be triggered", nodeID, n.Base().typ)
	}
	return t.Trigger(ctx)
}

// DeliverFinalMsg is used by test-once nodes to hand a message to RunOnce.
func (e *Engine) DeliverFinalMsg(ctx context.Context, msg *model.Msg) error {
	select {
	case e.finalMsgs <- msg:
		return nil
	case <-ctx.Done():
		return rwerrors.ErrTaskCancelled
	}
}

// RecvFinalMsg waits for the next message delivered by a test-once node.
func (e *Engine) RecvFinalMsg(ctx context.Context) (*model.Msg, error) {
	select {
	case msg := <-e.finalMsgs:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Injection is one message RunOnce sends into a node. A nil Msg triggers
// the node instead.
type Injection struct {
	NodeID model.ElementID
	Msg    *model.Msg
}

// RunOnce starts the engine, performs the injections, collects expected final
// messages and stops the engine again.
func (e *Engine) RunOnce(ctx context.Context, expected int, timeout time.Duration, injections []Injection) ([]*model.Msg, error) {
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Stop(stopCtx); err != nil {
			e.logger.Warn("Engine did not stop cleanly", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, inj := range injections {
		var err error
		if inj.Msg == nil {
			err = e.TriggerNode(runCtx, inj.NodeID)
		} else {
			err = e.InjectMsg(runCtx, inj.NodeID, inj.Msg)
		}
		if err != nil {
			return nil, fmt.Errorf("injection into %s failed: %w", inj.NodeID, err)
		}
	}

	msgs := make([]*model.Msg, 0, expected)
	for len(msgs) < expected {
		msg, err := e.RecvFinalMsg(runCtx)
		if err != nil {
			return msgs, rwerrors.NewError("TIMEOUT",
				fmt.Sprintf("received %d of %d messages within %s", len(msgs), expected, timeout),
				rwerrors.ErrTimeout)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (e *Engine) captureError(err error, node *FlowNode) {
	if e.hub == nil {
		return
	}
	e.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("node.id", node.id.String())
		scope.SetTag("node.type", node.typ)
		scope.SetTag("flow.id", node.flow.id.String())
		e.hub.CaptureException(err)
	})
}

func (e *Engine) capturePanic(r any, node *FlowNode) {
	if e.hub == nil {
		return
	}
	e.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("node.id", node.id.String())
		scope.SetTag("node.type", node.typ)
		scope.SetTag("flow.id", node.flow.id.String())
		e.hub.Recover(r)
	})
}
