package function

import (
	"context"
	"math"

	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

const (
	rangeScale = "scale"
	rangeDrop  = "drop"
	rangeClamp = "clamp"
	rangeRoll  = "roll"
)

type rangeConfig struct {
	Action   string `json:"action"`
	Round    bool   `json:"round"`
	MinIn    any    `json:"minin"`
	MaxIn    any    `json:"maxin"`
	MinOut   any    `json:"minout"`
	MaxOut   any    `json:"maxout"`
	Property string `json:"property"`
}

// rangeNode maps a numeric property from an input range onto an output range.
type rangeNode struct {
	*runtime.FlowNode
	action   string
	round    bool
	property string

	minIn, maxIn   float64
	minOut, maxOut float64
}

func newRangeNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	c := rangeConfig{Action: rangeScale, Property: "payload"}
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	n := &rangeNode{FlowNode: base, action: c.Action, round: c.Round, property: c.Property}
	switch n.action {
	case rangeScale, rangeDrop, rangeClamp, rangeRoll:
	default:
		return nil, rwerrors.BadFlowsJSON("range node %s: unknown action %q", cfg.ID, c.Action)
	}
	bounds := []struct {
		dst *float64
		raw any
	}{{&n.minIn, c.MinIn}, {&n.maxIn, c.MaxIn}, {&n.minOut, c.MinOut}, {&n.maxOut, c.MaxOut}}
	for _, b := range bounds {
		v, ok := model.ToFloat(b.raw)
		if !ok {
			return nil, rwerrors.BadFlowsJSON("range node %s: bound %v is not a number", cfg.ID, b.raw)
		}
		*b.dst = v
	}
	if n.maxIn == n.minIn {
		return nil, rwerrors.BadFlowsJSON("range node %s: empty input range", cfg.ID)
	}
	return n, nil
}

func (n *rangeNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		raw, ok := msg.GetNav(n.property)
		if ok {
			if v, isNum := model.ToFloat(raw); isNum && !math.IsNaN(v) {
				out, keep := n.scale(v)
				if !keep {
					return nil
				}
				if err := msg.SetNav(n.property, out, false); err != nil {
					return err
				}
			} else {
				n.Logger().Debug("Range input is not a number", zap.Any("value", raw))
			}
		}
		return n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg})
	})
}

// scale reports false when the drop action rejects v.
func (n *rangeNode) scale(v float64) (float64, bool) {
	switch n.action {
	case rangeDrop:
		if v < n.minIn || v > n.maxIn {
			return 0, false
		}
	case rangeClamp:
		v = math.Max(n.minIn, math.Min(n.maxIn, v))
	case rangeRoll:
		d := n.maxIn - n.minIn
		v = math.Mod(math.Mod(v-n.minIn, d)+d, d) + n.minIn
	}
	out := (v-n.minIn)/(n.maxIn-n.minIn)*(n.maxOut-n.minOut) + n.minOut
	if n.round {
		out = math.Round(out)
	}
	return out, true
}
