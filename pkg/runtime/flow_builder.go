package runtime

import (
	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
)

// newFlow builds a flow from its configuration. Flows a subflow depends on and
// every node a node wires to are already built, as the loader orders them.
func newFlow(engine *Engine, cfg *flowsjson.FlowConfig, args FlowArgs) (*Flow, error) {
	f := &Flow{
		id:            cfg.ID,
		label:         cfg.Label,
		typ:           cfg.Type,
		disabled:      cfg.Disabled,
		ordering:      cfg.Ordering,
		engine:        engine,
		groups:        make(map[model.ElementID]*Group),
		nodes:         make(map[model.ElementID]Node),
		completeNodes: make(map[model.ElementID]Node),
		completeIndex: make(map[model.ElementID][]model.ElementID),
	}
	f.logger = engine.logger.With(
		zap.String("flow_id", cfg.ID.String()),
		zap.String("flow_label", cfg.Label))

	if err := f.buildEnvAndContext(cfg); err != nil {
		return nil, err
	}
	if err := f.buildGroups(cfg); err != nil {
		return nil, err
	}
	if cfg.IsSubflow() {
		for i := range cfg.OutPorts {
			f.subflow.outPorts = append(f.subflow.outPorts, &subflowOutPort{
				index: i,
				ch:    make(chan *model.Msg, args.NodeMsgQueueCapacity),
			})
		}
	}
	for i := range cfg.Nodes {
		if err := f.buildNode(&cfg.Nodes[i], cfg, args); err != nil {
			return nil, err
		}
	}
	if cfg.IsSubflow() {
		if err := f.resolveSubflowInputs(cfg); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Flow) buildEnvAndContext(cfg *flowsjson.FlowConfig) error {
	engine := f.engine
	if !cfg.IsSubflow() {
		f.env = NewEnvStore(engine.env)
		f.env.Set(EnvFlowID, cfg.ID.String())
		f.env.Set(EnvFlowName, cfg.Label)
		f.context = engine.contexts.NewContext(cfg.ID.String(), engine.contexts.Global())
		return f.env.LoadEntries(cfg.Env)
	}

	instance, ok := engine.FindFlowNodeByID(cfg.SubflowNodeID)
	if !ok {
		return rwerrors.BadFlowsJSON("subflow %s: instance node %s not found", cfg.ID, cfg.SubflowNodeID)
	}
	base := instance.Base()
	f.parent = base.flow
	f.subflow = &subflowState{instanceID: base.id, instance: instance}

	f.env = NewEnvStore(base.env)
	f.env.Set(EnvFlowID, cfg.ID.String())
	f.env.Set(EnvFlowName, cfg.Label)
	f.env.Set(EnvSubflowID, base.id.String())
	f.env.Set(EnvSubflowName, base.name)
	f.env.Set(EnvSubflowPath, f.path())
	if err := f.env.LoadEntries(cfg.Env); err != nil {
		return err
	}
	var instanceEnv []flowsjson.EnvEntry
	if raw, ok := base.config.JSON["env"]; ok && raw != nil {
		if err := xjson.Convert(raw, &instanceEnv); err != nil {
			return rwerrors.BadFlowsJSON("subflow instance %s env: %v", base.id, err)
		}
	}
	if err := f.env.LoadEntries(instanceEnv); err != nil {
		return err
	}
	f.context = engine.contexts.NewContext(cfg.ID.String(), f.parent.context)
	return nil
}

func (f *Flow) buildGroups(cfg *flowsjson.FlowConfig) error {
	for i := range cfg.Groups {
		gc := &cfg.Groups[i]
		var parent *Group
		if !gc.G.IsEmpty() {
			p, ok := f.groups[gc.G]
			if !ok {
				return rwerrors.BadFlowsJSON("group %s: parent group %s not found", gc.ID, gc.G)
			}
			parent = p
		}
		g, err := newGroup(f, parent, gc)
		if err != nil {
			return err
		}
		f.groups[gc.ID] = g
	}
	return nil
}

// buildNode constructs the runtime state of one node and then its behaviour.
func (f *Flow) buildNode(cfg *flowsjson.NodeConfig, flowCfg *flowsjson.FlowConfig, args FlowArgs) error {
	if _, dup := f.nodes[cfg.ID]; dup {
		return rwerrors.NewError("DUPLICATE_ID", "node "+cfg.ID.String(), rwerrors.ErrDuplicateID)
	}
	base, err := f.newFlowNodeState(cfg, flowCfg, args)
	if err != nil {
		return err
	}

	typ := cfg.Type
	if _, ok := flowsjson.SubflowInstanceTarget(typ); ok {
		typ = TypeSubflowInstance
	}
	meta, ok := f.engine.registry.Get(typ)
	if !ok || meta.Kind != KindFlow {
		base.logger.Warn("Unknown node type, the node will do nothing")
		meta, ok = f.engine.registry.Get(TypeUnknownFlow)
		if !ok || meta.Kind != KindFlow {
			return rwerrors.NotFound("no factory for node type %q", cfg.Type)
		}
	}
	node, err := meta.FlowFactory(f, base, cfg)
	if err != nil {
		return rwerrors.NewError("NODE_BUILD", "failed to build node "+cfg.ID.String()+" ("+cfg.Type+")", err)
	}
	f.nodes[cfg.ID] = node
	f.nodesOrdered = append(f.nodesOrdered, node)

	switch cfg.Type {
	case TypeComplete:
		scope, ok := cfg.JSON["scope"].([]any)
		if !ok || len(scope) == 0 {
			return rwerrors.BadFlowsJSON("complete node %s has no scope", cfg.ID)
		}
		f.completeNodes[cfg.ID] = node
		for _, emitter := range idValues(scope) {
			f.completeIndex[emitter] = append(f.completeIndex[emitter], cfg.ID)
		}
	case TypeCatch:
		entry := catchEntry{node: node}
		entry.uncaught, _ = cfg.JSON["uncaught"].(bool)
		if scope, ok := cfg.JSON["scope"].([]any); ok {
			entry.scope = make(map[model.ElementID]struct{}, len(scope))
			for _, id := range idValues(scope) {
				entry.scope[id] = struct{}{}
			}
		}
		f.catchNodes = append(f.catchNodes, entry)
	}
	return nil
}

func (f *Flow) newFlowNodeState(cfg *flowsjson.NodeConfig, flowCfg *flowsjson.FlowConfig, args FlowArgs) (*FlowNode, error) {
	base := &FlowNode{
		id:       cfg.ID,
		name:     cfg.Name,
		typ:      cfg.Type,
		disabled: cfg.Disabled,
		config:   cfg,
		flow:     f,
		env:      f.env,
		inbound:  make(chan *model.Msg, args.NodeMsgQueueCapacity),
	}
	if !cfg.G.IsEmpty() {
		g, ok := f.groups[cfg.G]
		if !ok {
			return nil, rwerrors.BadFlowsJSON("node %s: group %s not found", cfg.ID, cfg.G)
		}
		base.group = g
		base.env = g.env
	}
	base.context = f.engine.contexts.NewContext(cfg.ID.String()+":"+f.id.String(), f.context)
	base.logger = f.logger.With(
		zap.String("node_id", cfg.ID.String()),
		zap.String("node_type", cfg.Type),
		zap.String("node_name", cfg.Name))

	ports := len(cfg.Wires)
	if outputs, ok := model.ToFloat(cfg.JSON["outputs"]); ok && int(outputs) > ports {
		ports = int(outputs)
	}
	base.ports = make([]Port, ports)
	for i, targets := range cfg.Wires {
		for _, tid := range targets {
			target, ok := f.nodes[tid]
			if !ok {
				return nil, rwerrors.BadFlowsJSON("node %s wires to unknown node %s", cfg.ID, tid)
			}
			if target.Base().disabled {
				continue
			}
			base.ports[i].Wires = append(base.ports[i].Wires, PortWire{TargetID: tid, ch: target.Base().inbound})
		}
	}

	if f.subflow != nil {
		for outIdx, op := range flowCfg.OutPorts {
			for _, w := range op.Wires {
				if w.ID != cfg.ID {
					continue
				}
				if w.Port < 0 {
					return nil, rwerrors.BadFlowsJSON("subflow %s output %d: bad port %d", f.id, outIdx, w.Port)
				}
				for len(base.ports) <= w.Port {
					base.ports = append(base.ports, Port{})
				}
				base.ports[w.Port].Wires = append(base.ports[w.Port].Wires, PortWire{
					TargetID: f.subflow.instanceID,
					ch:       f.subflow.outPorts[outIdx].ch,
				})
			}
		}
	}
	return base, nil
}

// resolveSubflowInputs wires the subflow input port to its internal targets.
func (f *Flow) resolveSubflowInputs(cfg *flowsjson.FlowConfig) error {
	for _, in := range cfg.InPorts {
		for _, w := range in.Wires {
			if n, ok := f.nodes[w.ID]; ok {
				if !n.Base().disabled {
					f.subflow.inputs = append(f.subflow.inputs, n.Base().inbound)
				}
				continue
			}
			return rwerrors.BadFlowsJSON("subflow %s input wires to unknown node %s", f.id, w.ID)
		}
	}
	for outIdx, op := range cfg.OutPorts {
		for _, w := range op.Wires {
			if w.ID == f.id {
				f.subflow.inputs = append(f.subflow.inputs, f.subflow.outPorts[outIdx].ch)
			}
		}
	}
	return nil
}

func idValues(items []any) []model.ElementID {
	out := make([]model.ElementID, 0, len(items))
	for _, item := range items {
		if id, ok := model.ParseElementIDValue(item); ok {
			out = append(out, id)
		}
	}
	return out
}
