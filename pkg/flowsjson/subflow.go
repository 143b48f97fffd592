package flowsjson

import (
	"strings"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

// maxExpansionRounds bounds nested subflow expansion so that a subflow that
// instantiates itself is reported instead of looping forever.
const maxExpansionRounds = 64

// RemapID derives the id of a subflow child for one instantiation.
func RemapID(sid, id model.ElementID) model.ElementID {
	return sid ^ id
}

// SubflowInstanceTarget returns the definition id referenced by a
// `subflow:<id>` type string.
func SubflowInstanceTarget(typ string) (model.ElementID, bool) {
	rest, ok := strings.CutPrefix(typ, TypeSubflow+":")
	if !ok {
		return model.EmptyID, false
	}
	id, err := model.ParseElementID(rest)
	if err != nil {
		return model.EmptyID, false
	}
	return id, true
}

// IDGenerator draws fresh subflow instance ids.
type IDGenerator func() model.ElementID

// ExpandSubflows replaces every subflow instance with uniquely identified
// clones of its definition and children. Instances nested inside a definition
// are expanded in later rounds, once the clone that owns them exists. The
// original definitions and their children are dropped at the end.
func ExpandSubflows(elements []Element, gen IDGenerator) ([]Element, error) {
	if gen == nil {
		gen = model.NewElementID
	}

	definitions := make(map[model.ElementID]Element)
	for _, e := range elements {
		if elementType(e) != TypeSubflow {
			continue
		}
		if id, ok := elementID(e, "id"); ok {
			definitions[id] = e
		}
	}
	for _, e := range elements {
		target, ok := SubflowInstanceTarget(elementType(e))
		if !ok {
			continue
		}
		if _, ok := definitions[target]; !ok {
			id, _ := elementID(e, "id")
			return nil, rwerrors.BadFlowsJSON("subflow instance %s references unknown subflow %s", id, target)
		}
	}
	if len(definitions) == 0 {
		return elements, nil
	}

	current := elements
	for round := 0; ; round++ {
		next, changed := expandRound(current, definitions, gen)
		if !changed {
			return dropTemplates(next, definitions), nil
		}
		if round+1 >= maxExpansionRounds {
			return nil, rwerrors.BadFlowsJSON("subflow nesting deeper than %d levels, recursive subflow?", maxExpansionRounds)
		}
		current = next
	}
}

// expandRound expands every instance that lives outside a template definition.
func expandRound(elements []Element, definitions map[model.ElementID]Element, gen IDGenerator) ([]Element, bool) {
	children := make(map[model.ElementID][]Element)
	for _, e := range elements {
		if z, ok := elementID(e, "z"); ok {
			if _, isTemplate := definitions[z]; isTemplate {
				children[z] = append(children[z], e)
			}
		}
	}

	out := make([]Element, 0, len(elements))
	changed := false
	for _, e := range elements {
		target, ok := SubflowInstanceTarget(elementType(e))
		if !ok {
			out = append(out, e)
			continue
		}
		def, isTemplate := definitions[target]
		z, _ := elementID(e, "z")
		if _, insideTemplate := definitions[z]; !isTemplate || insideTemplate {
			out = append(out, e)
			continue
		}

		changed = true
		sid := gen()

		remap := newIDRemap(target, sid, children[target])

		newDef := cloneElement(def)
		newDef["id"] = sid.String()
		remapPorts(newDef, "in", remap)
		remapPorts(newDef, "out", remap)
		out = append(out, newDef)

		instance := cloneElement(e)
		instance["type"] = TypeSubflow + ":" + sid.String()
		out = append(out, instance)

		for _, child := range children[target] {
			out = append(out, remapChild(child, remap))
		}
	}
	return out, changed
}

// dropTemplates removes the original definitions and everything they own.
func dropTemplates(elements []Element, definitions map[model.ElementID]Element) []Element {
	out := make([]Element, 0, len(elements))
	for _, e := range elements {
		if id, ok := elementID(e, "id"); ok {
			if _, isTemplate := definitions[id]; isTemplate {
				continue
			}
		}
		if z, ok := elementID(e, "z"); ok {
			if _, isTemplate := definitions[z]; isTemplate {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func cloneElement(e Element) Element {
	return model.DeepCloneMap(e)
}

// idRemap maps the ids owned by one subflow definition to the ids of one
// instantiation. The definition id maps to the instance id; ids the
// definition does not own, such as link targets on a tab, are kept.
type idRemap struct {
	sid     model.ElementID
	mapping map[model.ElementID]model.ElementID
}

func newIDRemap(defID, sid model.ElementID, children []Element) *idRemap {
	r := &idRemap{sid: sid, mapping: make(map[model.ElementID]model.ElementID, len(children)+1)}
	r.mapping[defID] = sid
	for _, child := range children {
		if id, ok := elementID(child, "id"); ok {
			r.mapping[id] = RemapID(sid, id)
		}
	}
	return r
}

func (r *idRemap) id(id model.ElementID) model.ElementID {
	if mapped, ok := r.mapping[id]; ok {
		return mapped
	}
	return id
}

// value remaps an id held in a JSON value, leaving anything else untouched.
func (r *idRemap) value(v any) any {
	id, ok := model.ParseElementIDValue(v)
	if !ok {
		return v
	}
	if mapped, ok := r.mapping[id]; ok {
		return mapped.String()
	}
	return v
}

// remapPorts rewrites boundary wire ids. A wire naming the definition itself
// connects the input port straight to an output and follows the definition id.
func remapPorts(def Element, key string, remap *idRemap) {
	ports, ok := def[key].([]any)
	if !ok {
		return
	}
	for _, p := range ports {
		port, ok := p.(map[string]any)
		if !ok {
			continue
		}
		wires, ok := port["wires"].([]any)
		if !ok {
			continue
		}
		for _, w := range wires {
			wire, ok := w.(map[string]any)
			if !ok {
				continue
			}
			if _, ok := wire["id"]; ok {
				wire["id"] = remap.value(wire["id"])
			}
		}
	}
}

func remapChild(child Element, remap *idRemap) Element {
	c := cloneElement(child)
	if id, ok := elementID(c, "id"); ok {
		c["id"] = remap.id(id).String()
	}
	c["z"] = remap.sid.String()
	if g, ok := elementID(c, "g"); ok {
		c["g"] = remap.id(g).String()
	}
	if wires, ok := c["wires"].([]any); ok {
		for _, p := range wires {
			targets, ok := p.([]any)
			if !ok {
				continue
			}
			for i, t := range targets {
				targets[i] = remap.value(t)
			}
		}
	}
	for _, key := range []string{"scope", "links", "nodes"} {
		items, ok := c[key].([]any)
		if !ok {
			continue
		}
		for i, item := range items {
			items[i] = remap.value(item)
		}
	}
	return c
}
