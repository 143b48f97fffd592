package function

import (
	"context"
	"math"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

const (
	rbeChanged         = "rbe"
	rbeChangedIgnore   = "rbei"
	rbeNarrowband      = "narrowband"
	rbeNarrowbandEq    = "narrowbandEq"
	rbeDeadband        = "deadband"
	rbeDeadbandEq      = "deadbandEq"
	rbeNoTopic         = "_no_topic"
	rbeCompareToInput  = "in"
	rbeCompareToOutput = "out"
)

type rbeConfig struct {
	Func      string `json:"func"`
	Gap       any    `json:"gap"`
	Start     any    `json:"start"`
	InOut     string `json:"inout"`
	SepTopics *bool  `json:"septopics"`
	Property  string `json:"property"`
	Topi      string `json:"topi"`
}

// rbeNode is the filter node: it blocks a message unless its value changed,
// or moved by more (deadband) or less (narrowband) than a gap.
type rbeNode struct {
	*runtime.FlowNode
	fn        string
	gap       float64
	percent   bool
	start     *float64
	inout     string
	sepTopics bool
	property  string
	topic     string

	mu       sync.Mutex
	previous map[string]any
}

func newRbeNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	c := rbeConfig{Func: rbeChanged, InOut: rbeCompareToOutput, Property: "payload", Topi: "topic"}
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	n := &rbeNode{
		FlowNode:  base,
		fn:        c.Func,
		inout:     c.InOut,
		sepTopics: c.SepTopics == nil || *c.SepTopics,
		property:  c.Property,
		topic:     c.Topi,
		previous:  make(map[string]any),
	}
	switch n.fn {
	case rbeChanged, rbeChangedIgnore, rbeNarrowband, rbeNarrowbandEq, rbeDeadband, rbeDeadbandEq:
	default:
		return nil, rwerrors.BadFlowsJSON("rbe node %s: unknown function %q", cfg.ID, c.Func)
	}
	if n.inout == "" {
		n.inout = rbeCompareToOutput
	}

	if s, ok := c.Gap.(string); ok && strings.HasSuffix(strings.TrimSpace(s), "%") {
		n.percent = true
		c.Gap = strings.TrimSuffix(strings.TrimSpace(s), "%")
	}
	if c.Gap != nil && c.Gap != "" {
		g, ok := model.ToFloat(c.Gap)
		if !ok {
			return nil, rwerrors.BadFlowsJSON("rbe node %s: gap %v is not a number", cfg.ID, c.Gap)
		}
		n.gap = g
	}
	if v, ok := model.ToFloat(c.Start); ok {
		n.start = &v
	}
	return n, nil
}

func (n *rbeNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		if !n.filter(msg) {
			return nil
		}
		return n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg})
	})
}

// filter reports whether msg passes and updates the remembered values.
func (n *rbeNode) filter(msg *model.Msg) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	topic := rbeNoTopic
	if n.sepTopics {
		if t, ok := msg.GetNav(n.topic); ok {
			if s, ok := t.(string); ok && s != "" {
				topic = s
			}
		}
	}
	if msg.Contains("reset") {
		if topic != rbeNoTopic {
			delete(n.previous, topic)
		} else {
			clear(n.previous)
		}
	}

	value, ok := msg.GetNav(n.property)
	if !ok {
		return false
	}
	if n.fn == rbeChanged || n.fn == rbeChangedIgnore {
		prev, seen := n.previous[topic]
		if seen && reflect.DeepEqual(prev, value) {
			return false
		}
		n.previous[topic] = model.DeepClone(value)
		return seen || n.fn == rbeChanged
	}

	v, isNum := model.ToFloat(value)
	if !isNum || math.IsNaN(v) {
		n.Logger().Warn("Value is not a number", zap.Any("value", value))
		return false
	}
	narrow := n.fn == rbeNarrowband || n.fn == rbeNarrowbandEq

	prevAny, seen := n.previous[topic]
	if !seen && narrow {
		if n.start != nil {
			prevAny = *n.start
		} else {
			prevAny = v
		}
		seen = true
	}
	prev, _ := prevAny.(float64)
	gap := n.gap
	if n.percent {
		gap = math.Abs(prev * n.gap / 100)
	}
	if !seen {
		prev = v - gap - 1
	}

	pass := false
	diff := math.Abs(v - prev)
	switch {
	case diff == gap:
		pass = n.fn == rbeDeadbandEq || n.fn == rbeNarrowband
	case diff > gap:
		pass = n.fn == rbeDeadband || n.fn == rbeDeadbandEq
	default:
		pass = narrow
	}
	switch {
	case n.inout == rbeCompareToInput:
		n.previous[topic] = v
	case pass:
		n.previous[topic] = v
	default:
		n.previous[topic] = prev
	}
	return pass
}
