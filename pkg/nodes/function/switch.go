package function

import (
	"context"
	"regexp"
	"strings"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

type switchRule struct {
	T    string `json:"t"`
	V    any    `json:"v"`
	VT   string `json:"vt"`
	V2   any    `json:"v2"`
	V2T  string `json:"v2t"`
	Case bool   `json:"case"`

	re *regexp.Regexp
}

type switchConfig struct {
	Property     string       `json:"property"`
	PropertyType string       `json:"propertyType"`
	Rules        []switchRule `json:"rules"`
	CheckAll     any          `json:"checkall"`
}

// switchNode routes a message to the output of every matching rule, or of the
// first matching rule when checkall is off.
type switchNode struct {
	*runtime.FlowNode
	property     string
	propertyType string
	rules        []switchRule
	checkAll     bool
}

func newSwitchNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	c := switchConfig{Property: "payload", PropertyType: runtime.PropMsg}
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	n := &switchNode{
		FlowNode:     base,
		property:     c.Property,
		propertyType: c.PropertyType,
		rules:        c.Rules,
		checkAll:     true,
	}
	switch v := c.CheckAll.(type) {
	case bool:
		n.checkAll = v
	case string:
		n.checkAll = v != "false"
	}
	if n.propertyType == "" {
		n.propertyType = runtime.PropMsg
	}
	for i := range n.rules {
		r := &n.rules[i]
		if r.T != "regex" {
			continue
		}
		pattern := model.ToString(r.V)
		if r.Case {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, rwerrors.BadFlowsJSON("switch node %s: bad pattern %q: %v", cfg.ID, pattern, err)
		}
		r.re = re
	}
	return n, nil
}

func (n *switchNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		value, err := runtime.EvaluateNodeProperty(ctx, n.property, n.propertyType, n.FlowNode, msg)
		if err != nil {
			return err
		}
		var ports []int
		matched := false
		for i := range n.rules {
			r := &n.rules[i]
			var ok bool
			if r.T == "else" {
				ok = !matched
			} else {
				ok, err = n.match(ctx, r, value, msg)
				if err != nil {
					return err
				}
			}
			if !ok {
				continue
			}
			matched = true
			ports = append(ports, i)
			if !n.checkAll {
				break
			}
		}

		envs := make([]model.Envelope, len(ports))
		for i, port := range ports {
			m := msg
			if i > 0 {
				m = msg.Clone()
			}
			envs[i] = model.Envelope{Port: port, Msg: m}
		}
		return n.FanOutMany(ctx, envs)
	})
}

func (n *switchNode) match(ctx context.Context, r *switchRule, value any, msg *model.Msg) (bool, error) {
	switch r.T {
	case "true":
		return value == true, nil
	case "false":
		return value == false, nil
	case "null":
		return value == nil, nil
	case "nnull":
		return value != nil, nil
	case "empty":
		return model.IsEmpty(value), nil
	case "nempty":
		switch value.(type) {
		case string, []any, map[string]any, []byte:
			return !model.IsEmpty(value), nil
		}
		return false, nil
	case "regex":
		return r.re.MatchString(model.ToString(value)), nil
	}

	operand, err := runtime.EvaluateNodeProperty(ctx, r.V, r.VT, n.FlowNode, msg)
	if err != nil {
		return false, err
	}
	switch r.T {
	case "eq":
		return model.LooseEqual(value, operand), nil
	case "neq":
		return !model.LooseEqual(value, operand), nil
	case "lt", "lte", "gt", "gte":
		return compare(r.T, value, operand), nil
	case "btwn":
		upper, err := runtime.EvaluateNodeProperty(ctx, r.V2, r.V2T, n.FlowNode, msg)
		if err != nil {
			return false, err
		}
		return between(value, operand, upper), nil
	case "cont":
		return strings.Contains(model.ToString(value), model.ToString(operand)), nil
	default:
		return false, rwerrors.NewError("UNSUPPORTED", "switch rule "+r.T, rwerrors.ErrUnsupported)
	}
}

// compare orders numbers numerically and anything else as strings.
func compare(op string, a, b any) bool {
	af, aok := model.ToFloat(a)
	bf, bok := model.ToFloat(b)
	var c int
	switch {
	case aok && bok:
		switch {
		case af < bf:
			c = -1
		case af > bf:
			c = 1
		}
	default:
		c = strings.Compare(model.ToString(a), model.ToString(b))
	}
	switch op {
	case "lt":
		return c < 0
	case "lte":
		return c <= 0
	case "gt":
		return c > 0
	default:
		return c >= 0
	}
}

// between accepts the bounds in either order.
func between(v, lo, hi any) bool {
	if compare("gt", lo, hi) {
		lo, hi = hi, lo
	}
	return compare("gte", v, lo) && compare("lte", v, hi)
}
