package runtime

import (
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
)

// Group is a visual group. It only matters at runtime for its environment,
// which sits between the flow and the nodes it contains.
type Group struct {
	id     model.ElementID
	name   string
	parent *Group
	flow   *Flow
	env    *EnvStore
}

func newGroup(flow *Flow, parent *Group, cfg *flowsjson.GroupConfig) (*Group, error) {
	parentEnv := flow.env
	if parent != nil {
		parentEnv = parent.env
	}
	g := &Group{
		id:     cfg.ID,
		name:   cfg.Name,
		parent: parent,
		flow:   flow,
		env:    NewEnvStore(parentEnv),
	}
	g.env.Set(EnvGroupID, cfg.ID.String())
	g.env.Set(EnvGroupName, cfg.Name)
	if err := g.env.LoadEntries(cfg.Env); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Group) ID() model.ElementID { return g.id }
func (g *Group) Name() string        { return g.name }
func (g *Group) Parent() *Group      { return g.parent }
func (g *Group) Flow() *Flow         { return g.flow }
func (g *Group) Env() *EnvStore      { return g.env }
