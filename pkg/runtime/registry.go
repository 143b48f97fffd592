package runtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
)

// Type names the runtime itself refers to.
const (
	TypeSubflowInstance = "subflow"
	TypeComplete        = "complete"
	TypeCatch           = "catch"
	TypeLinkIn          = flowsjson.TypeLinkIn
	TypeLinkOut         = flowsjson.TypeLinkOut
	TypeLinkCall        = flowsjson.TypeLinkCall
	TypeUnknownFlow     = "unknown.flow"
	TypeUnknownGlobal   = "unknown.global"
)

// NodeKind tells flow nodes and global configuration nodes apart.
type NodeKind int

const (
	KindFlow NodeKind = iota
	KindGlobal
)

func (k NodeKind) String() string {
	if k == KindGlobal {
		return "global"
	}
	return "flow"
}

// FlowNodeFactory builds the behaviour of a flow node around its prepared
// runtime state.
type FlowNodeFactory func(flow *Flow, base *FlowNode, cfg *flowsjson.NodeConfig) (Node, error)

// GlobalNodeFactory builds a global configuration node.
type GlobalNodeFactory func(engine *Engine, cfg *flowsjson.GlobalNodeConfig) (GlobalNode, error)

// MetaNode describes one registered node type.
type MetaNode struct {
	Kind          NodeKind
	Type          string
	FlowFactory   FlowNodeFactory
	GlobalFactory GlobalNodeFactory
}

// Registry maps node type names to factories. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*MetaNode
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*MetaNode)}
}

// RegisterFlowNode registers a flow node type.
func (r *Registry) RegisterFlowNode(typ string, factory FlowNodeFactory) error {
	if factory == nil {
		return rwerrors.BadArguments("nil factory for node type %q", typ)
	}
	return r.register(&MetaNode{Kind: KindFlow, Type: typ, FlowFactory: factory})
}

// RegisterGlobalNode registers a global node type.
func (r *Registry) RegisterGlobalNode(typ string, factory GlobalNodeFactory) error {
	if factory == nil {
		return rwerrors.BadArguments("nil factory for node type %q", typ)
	}
	return r.register(&MetaNode{Kind: KindGlobal, Type: typ, GlobalFactory: factory})
}

func (r *Registry) register(meta *MetaNode) error {
	if meta.Type == "" {
		return rwerrors.BadArguments("node type cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[meta.Type]; exists {
		return fmt.Errorf("%w: node type %s", rwerrors.ErrAlreadyRegistered, meta.Type)
	}
	r.nodes[meta.Type] = meta
	return nil
}

// Get looks up a node type.
func (r *Registry) Get(typ string) (*MetaNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.nodes[typ]
	return meta, ok
}

// Types returns all registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.nodes))
	for t := range r.nodes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// DecodeNodeConfig decodes the raw JSON of a node into out.
func DecodeNodeConfig(cfg *flowsjson.NodeConfig, out any) error {
	if err := xjson.Convert(cfg.JSON, out); err != nil {
		return rwerrors.BadFlowsJSON("node %s (%s): %v", cfg.ID, cfg.Type, err)
	}
	return nil
}

// DecodeGlobalNodeConfig decodes the raw JSON of a global node into out.
func DecodeGlobalNodeConfig(cfg *flowsjson.GlobalNodeConfig, out any) error {
	if err := xjson.Convert(cfg.JSON, out); err != nil {
		return rwerrors.BadFlowsJSON("global node %s (%s): %v", cfg.ID, cfg.Type, err)
	}
	return nil
}
