package flowsjson

import (
	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

// Element is one raw object of a flows document.
type Element = map[string]any

// EnvEntry is one `env` item of a flow, subflow, group or subflow instance.
type EnvEntry struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// PortWireConfig points a subflow boundary port at an internal node output.
type PortWireConfig struct {
	ID   model.ElementID `json:"id"`
	Port int             `json:"port"`
}

// PortConfig is a subflow boundary port.
type PortConfig struct {
	Wires []PortWireConfig `json:"wires"`
}

// FlowConfig is a tab or an instantiated subflow.
type FlowConfig struct {
	ID            model.ElementID
	Type          string
	Label         string
	Disabled      bool
	Info          string
	Env           []EnvEntry
	Groups        []GroupConfig
	Nodes         []NodeConfig
	InPorts       []PortConfig
	OutPorts      []PortConfig
	SubflowNodeID model.ElementID
	Ordering      int
	JSON          Element
}

// IsSubflow reports whether the flow is a subflow instantiation.
func (c *FlowConfig) IsSubflow() bool {
	return c.Type == TypeSubflow
}

// NodeConfig is one flow node.
type NodeConfig struct {
	ID       model.ElementID
	Type     string
	Name     string
	Z        model.ElementID
	G        model.ElementID
	Active   *bool
	Disabled bool
	Wires    [][]model.ElementID
	Ordering int
	JSON     Element
}

// GroupConfig is a visual group. Groups form a forest rooted at their flow.
type GroupConfig struct {
	ID       model.ElementID
	Name     string
	Z        model.ElementID
	G        model.ElementID
	Env      []EnvEntry
	Nodes    []model.ElementID
	Ordering int
	JSON     Element
}

// GlobalNodeConfig is a configuration node without a flow.
type GlobalNodeConfig struct {
	ID       model.ElementID
	Type     string
	Name     string
	Active   *bool
	Disabled bool
	Ordering int
	JSON     Element
}

// Document is the loader output.
type Document struct {
	Flows       []FlowConfig
	GlobalNodes []GlobalNodeConfig
}

type rawFlow struct {
	Label    string       `json:"label"`
	Name     string       `json:"name"`
	Disabled bool         `json:"disabled"`
	Info     string       `json:"info"`
	Env      []EnvEntry   `json:"env"`
	In       []PortConfig `json:"in"`
	Out      []PortConfig `json:"out"`
}

type rawNode struct {
	Name     string `json:"name"`
	Active   *bool  `json:"active"`
	Disabled bool   `json:"disabled"`
	D        bool   `json:"d"`
}

type rawGroup struct {
	Name  string            `json:"name"`
	Env   []EnvEntry        `json:"env"`
	Nodes []model.ElementID `json:"nodes"`
}

func elementID(e Element, key string) (model.ElementID, bool) {
	return model.ParseElementIDValue(e[key])
}

func elementType(e Element) string {
	s, _ := e["type"].(string)
	return s
}

func parseFlowConfig(e Element) (FlowConfig, error) {
	id, ok := elementID(e, "id")
	if !ok {
		return FlowConfig{}, rwerrors.BadFlowsJSON("flow without a valid id")
	}
	var raw rawFlow
	if err := xjson.Convert(e, &raw); err != nil {
		return FlowConfig{}, rwerrors.BadFlowsJSON("flow %s: %v", id, err)
	}
	label := raw.Label
	if label == "" {
		label = raw.Name
	}
	typ := elementType(e)
	if typ != TypeTab {
		typ = TypeSubflow
	}
	return FlowConfig{
		ID:       id,
		Type:     typ,
		Label:    label,
		Disabled: raw.Disabled,
		Info:     raw.Info,
		Env:      raw.Env,
		InPorts:  raw.In,
		OutPorts: raw.Out,
		JSON:     e,
	}, nil
}

func parseNodeConfig(e Element) (NodeConfig, error) {
	id, ok := elementID(e, "id")
	if !ok {
		return NodeConfig{}, rwerrors.BadFlowsJSON("node without a valid id")
	}
	var raw rawNode
	if err := xjson.Convert(e, &raw); err != nil {
		return NodeConfig{}, rwerrors.BadFlowsJSON("node %s: %v", id, err)
	}
	z, _ := elementID(e, "z")
	g, _ := elementID(e, "g")
	wires, err := parseWires(e["wires"])
	if err != nil {
		return NodeConfig{}, rwerrors.BadFlowsJSON("node %s: %v", id, err)
	}
	return NodeConfig{
		ID:       id,
		Type:     elementType(e),
		Name:     raw.Name,
		Z:        z,
		G:        g,
		Active:   raw.Active,
		Disabled: raw.Disabled || raw.D,
		Wires:    wires,
		JSON:     e,
	}, nil
}

func parseGroupConfig(e Element) (GroupConfig, error) {
	id, ok := elementID(e, "id")
	if !ok {
		return GroupConfig{}, rwerrors.BadFlowsJSON("group without a valid id")
	}
	z, ok := elementID(e, "z")
	if !ok {
		return GroupConfig{}, rwerrors.BadFlowsJSON("group %s has no flow", id)
	}
	var raw rawGroup
	if err := xjson.Convert(e, &raw); err != nil {
		return GroupConfig{}, rwerrors.BadFlowsJSON("group %s: %v", id, err)
	}
	g, _ := elementID(e, "g")
	return GroupConfig{
		ID:    id,
		Name:  raw.Name,
		Z:     z,
		G:     g,
		Env:   raw.Env,
		Nodes: raw.Nodes,
		JSON:  e,
	}, nil
}

func parseGlobalNodeConfig(e Element) (GlobalNodeConfig, error) {
	id, ok := elementID(e, "id")
	if !ok {
		return GlobalNodeConfig{}, rwerrors.BadFlowsJSON("global node without a valid id")
	}
	var raw rawNode
	if err := xjson.Convert(e, &raw); err != nil {
		return GlobalNodeConfig{}, rwerrors.BadFlowsJSON("global node %s: %v", id, err)
	}
	return GlobalNodeConfig{
		ID:       id,
		Type:     elementType(e),
		Name:     raw.Name,
		Active:   raw.Active,
		Disabled: raw.Disabled || raw.D,
		JSON:     e,
	}, nil
}

func parseWires(v any) ([][]model.ElementID, error) {
	if v == nil {
		return nil, nil
	}
	ports, ok := v.([]any)
	if !ok {
		return nil, rwerrors.InvalidData("wires must be an array")
	}
	out := make([][]model.ElementID, 0, len(ports))
	for _, p := range ports {
		targets, ok := p.([]any)
		if !ok {
			return nil, rwerrors.InvalidData("each port of wires must be an array")
		}
		ids := make([]model.ElementID, 0, len(targets))
		for _, t := range targets {
			id, ok := model.ParseElementIDValue(t)
			if !ok {
				return nil, rwerrors.InvalidData("bad wire target %v", t)
			}
			ids = append(ids, id)
		}
		out = append(out, ids)
	}
	return out, nil
}

// idList reads an array of id strings, silently skipping anything else.
func idList(v any) []model.ElementID {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]model.ElementID, 0, len(items))
	for _, item := range items {
		if id, ok := model.ParseElementIDValue(item); ok {
			out = append(out, id)
		}
	}
	return out
}
