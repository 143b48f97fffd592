// Package flowsjson compiles a Node-RED flows document into ordered, subflow
// expanded flow, group and node configurations.
//
// Loading runs in four steps:
//
//  1. The document is checked against a minimal JSON schema.
//  2. Subflow instances are expanded into uniquely identified clones.
//  3. Elements are classified into flows, groups, flow nodes and global nodes.
//  4. Three dependency graphs (flows, groups, nodes) are sorted topologically;
//     any cycle aborts the load.
package flowsjson

import (
	"fmt"
	"os"

	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

// Element type names with a structural meaning.
const (
	TypeTab      = "tab"
	TypeSubflow  = "subflow"
	TypeGroup    = "group"
	TypeComment  = "comment"
	TypeLinkIn   = "link in"
	TypeLinkOut  = "link out"
	TypeLinkCall = "link call"
)

// Loader turns a flows document into a Document.
type Loader struct {
	gen      IDGenerator
	validate bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithIDGenerator overrides how fresh subflow instance ids are drawn.
func WithIDGenerator(gen IDGenerator) LoaderOption {
	return func(l *Loader) { l.gen = gen }
}

// WithoutSchemaValidation skips the document shape check.
func WithoutSchemaValidation() LoaderOption {
	return func(l *Loader) { l.validate = false }
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{gen: model.NewElementID, validate: true}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses a flows document. Both the plain array form and the
// `{"flows": [...], "rev": "..."}` form are accepted.
func Load(data []byte, opts ...LoaderOption) (*Document, error) {
	return NewLoader(opts...).Load(data)
}

// LoadFile reads and parses a flows file.
func LoadFile(path string, opts ...LoaderOption) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flows file %s: %w", path, err)
	}
	return Load(data, opts...)
}

// Load compiles a flows document given as raw JSON.
func (l *Loader) Load(data []byte) (*Document, error) {
	var root any
	if err := xjson.Unmarshal(data, &root); err != nil {
		return nil, rwerrors.BadFlowsJSON("invalid JSON: %v", err)
	}
	if obj, ok := root.(map[string]any); ok {
		flows, ok := obj["flows"]
		if !ok {
			return nil, rwerrors.BadFlowsJSON("document object has no flows array")
		}
		root = flows
	}
	arr, ok := root.([]any)
	if !ok {
		return nil, rwerrors.BadFlowsJSON("document must be an array of elements")
	}
	return l.LoadValue(arr)
}

// LoadValue compiles already decoded elements.
func (l *Loader) LoadValue(values []any) (*Document, error) {
	if l.validate {
		if err := ValidateDocument(values); err != nil {
			return nil, err
		}
	}
	elements := make([]Element, 0, len(values))
	for i, v := range values {
		e, ok := v.(map[string]any)
		if !ok {
			return nil, rwerrors.BadFlowsJSON("element %d is not an object", i)
		}
		elements = append(elements, e)
	}

	expanded, err := ExpandSubflows(elements, l.gen)
	if err != nil {
		return nil, err
	}
	return buildDocument(expanded)
}

func buildDocument(elements []Element) (*Document, error) {
	var (
		flowSorter  = NewTopologicalSorter[model.ElementID]()
		groupSorter = NewTopologicalSorter[model.ElementID]()
		nodeSorter  = NewTopologicalSorter[model.ElementID]()

		flows   = make(map[model.ElementID]FlowConfig)
		groups  = make(map[model.ElementID]GroupConfig)
		nodes   = make(map[model.ElementID]NodeConfig)
		globals []GlobalNodeConfig
		seen    = make(map[model.ElementID]struct{}, len(elements))
	)

	nodeFlow := make(map[model.ElementID]model.ElementID)
	for _, e := range elements {
		id, ok := elementID(e, "id")
		if !ok {
			return nil, rwerrors.BadFlowsJSON("element without a valid id: %v", e["id"])
		}
		if z, ok := elementID(e, "z"); ok {
			nodeFlow[id] = z
		}
	}

	for _, e := range elements {
		id, _ := elementID(e, "id")
		typ := elementType(e)
		if typ == "" {
			return nil, rwerrors.BadFlowsJSON("element %s has no type", id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", rwerrors.ErrDuplicateID, id)
		}
		seen[id] = struct{}{}

		switch {
		case typ == TypeTab:
			fc, err := parseFlowConfig(e)
			if err != nil {
				return nil, err
			}
			flowSorter.AddVertex(id)
			for _, dep := range tabDependencies(id, elements, nodeFlow) {
				flowSorter.AddDependency(dep, id)
			}
			flows[id] = fc

		case typ == TypeSubflow:
			fc, err := parseFlowConfig(e)
			if err != nil {
				return nil, err
			}
			flowSorter.AddVertex(id)
			for _, instance := range elements {
				if elementType(instance) != TypeSubflow+":"+id.String() {
					continue
				}
				instanceID, _ := elementID(instance, "id")
				fc.SubflowNodeID = instanceID
				if host, ok := elementID(instance, "z"); ok && host != id {
					flowSorter.AddDependency(host, id)
				}
			}
			for _, dep := range tabDependencies(id, elements, nodeFlow) {
				flowSorter.AddDependency(dep, id)
			}
			flows[id] = fc

		case typ == TypeGroup:
			gc, err := parseGroupConfig(e)
			if err != nil {
				return nil, err
			}
			groupSorter.AddVertex(id)
			if !gc.G.IsEmpty() {
				groupSorter.AddDependency(gc.G, id)
			}
			groups[id] = gc

		case typ == TypeComment:

		default:
			if _, hasZ := elementID(e, "z"); !hasZ {
				gc, err := parseGlobalNodeConfig(e)
				if err != nil {
					return nil, err
				}
				globals = append(globals, gc)
				continue
			}
			nc, err := parseNodeConfig(e)
			if err != nil {
				return nil, err
			}
			nodeSorter.AddVertex(id)
			for _, dep := range nodeDependencies(nc) {
				if dep != id {
					nodeSorter.AddDependency(dep, id)
				}
			}
			nodes[id] = nc
		}
	}

	sortedFlows, err := flowSorter.Sort()
	if err != nil {
		return nil, fmt.Errorf("failed to order flows: %w", err)
	}
	sortedGroups, err := groupSorter.Sort()
	if err != nil {
		return nil, fmt.Errorf("failed to order groups: %w", err)
	}
	sortedNodes, err := nodeSorter.Sort()
	if err != nil {
		return nil, fmt.Errorf("failed to order nodes: %w", err)
	}

	doc := &Document{Flows: make([]FlowConfig, 0, len(flows))}
	flowIndex := make(map[model.ElementID]int, len(flows))
	for _, id := range sortedFlows {
		fc, ok := flows[id]
		if !ok {
			continue
		}
		fc.Ordering = len(doc.Flows)
		flowIndex[id] = len(doc.Flows)
		doc.Flows = append(doc.Flows, fc)
	}

	for _, id := range sortedGroups {
		gc, ok := groups[id]
		if !ok {
			return nil, rwerrors.BadFlowsJSON("group %s has an unknown parent group", id)
		}
		idx, ok := flowIndex[gc.Z]
		if !ok {
			return nil, rwerrors.BadFlowsJSON("group %s belongs to unknown flow %s", id, gc.Z)
		}
		flow := &doc.Flows[idx]
		gc.Ordering = len(flow.Groups)
		flow.Groups = append(flow.Groups, gc)
	}

	for _, id := range sortedNodes {
		nc, ok := nodes[id]
		if !ok {
			// A dependency on an id that is not a flow node, e.g. a dangling
			// wire; the flow builder reports it with context.
			continue
		}
		idx, ok := flowIndex[nc.Z]
		if !ok {
			return nil, rwerrors.BadFlowsJSON("node %s (%s) belongs to unknown flow %s", nc.ID, nc.Type, nc.Z)
		}
		flow := &doc.Flows[idx]
		nc.Ordering = len(flow.Nodes)
		flow.Nodes = append(flow.Nodes, nc)
	}

	for i := range globals {
		globals[i].Ordering = i
	}
	doc.GlobalNodes = globals
	return doc, nil
}

// nodeDependencies lists the ids that must be built before the node: its wire
// targets, its scope and, for link out and link call nodes, its links.
func nodeDependencies(nc NodeConfig) []model.ElementID {
	var deps []model.ElementID
	for _, port := range nc.Wires {
		deps = append(deps, port...)
	}
	deps = append(deps, idList(nc.JSON["scope"])...)
	switch nc.Type {
	case TypeLinkOut:
		if mode, _ := nc.JSON["mode"].(string); mode != "return" {
			deps = append(deps, idList(nc.JSON["links"])...)
		}
	case TypeLinkCall:
		deps = append(deps, idList(nc.JSON["links"])...)
	}
	return deps
}

// tabDependencies lists the flows that host link in targets of the link out
// and link call nodes living in flow or subflow id.
func tabDependencies(id model.ElementID, elements []Element, nodeFlow map[model.ElementID]model.ElementID) []model.ElementID {
	var deps []model.ElementID
	seen := make(map[model.ElementID]struct{})
	for _, e := range elements {
		z, ok := elementID(e, "z")
		if !ok || z != id {
			continue
		}
		switch elementType(e) {
		case TypeLinkOut:
			if mode, _ := e["mode"].(string); mode == "return" {
				continue
			}
		case TypeLinkCall:
		default:
			continue
		}
		for _, target := range idList(e["links"]) {
			targetFlow, ok := nodeFlow[target]
			if !ok || targetFlow == id {
				continue
			}
			if _, dup := seen[targetFlow]; dup {
				continue
			}
			seen[targetFlow] = struct{}{}
			deps = append(deps, targetFlow)
		}
	}
	return deps
}
