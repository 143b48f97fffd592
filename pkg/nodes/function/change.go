package function

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

const (
	ruleSet    = "set"
	ruleChange = "change"
	ruleDelete = "delete"
	ruleMove   = "move"
)

type changeRule struct {
	T     string `json:"t"`
	P     string `json:"p"`
	PT    string `json:"pt"`
	To    any    `json:"to"`
	ToT   string `json:"tot"`
	From  any    `json:"from"`
	FromT string `json:"fromt"`

	fromRE *regexp.Regexp
}

type changeConfig struct {
	Rules []changeRule `json:"rules"`
}

// changeNode applies set, change, delete and move rules to msg, flow and
// global properties. The message is always relayed, even when a rule fails.
type changeNode struct {
	*runtime.FlowNode
	rules []changeRule
}

func newChangeNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	var c changeConfig
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.PT == "" {
			r.PT = runtime.PropMsg
		}
		switch r.T {
		case ruleSet, ruleDelete, ruleMove:
		case ruleChange:
			if r.FromT == runtime.PropRegex {
				re, err := regexp.Compile(model.ToString(r.From))
				if err != nil {
					return nil, rwerrors.BadFlowsJSON("change node %s: bad pattern %v: %v", cfg.ID, r.From, err)
				}
				r.fromRE = re
			}
		default:
			return nil, rwerrors.BadFlowsJSON("change node %s: unknown rule %q", cfg.ID, r.T)
		}
	}
	return &changeNode{FlowNode: base, rules: c.Rules}, nil
}

func (n *changeNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		for i := range n.rules {
			if err := n.apply(ctx, &n.rules[i], msg); err != nil {
				n.Logger().Warn("Failed to apply change rule",
					zap.String("rule", n.rules[i].T),
					zap.String("property", n.rules[i].P),
					zap.Error(err))
			}
		}
		return n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg})
	})
}

func (n *changeNode) apply(ctx context.Context, r *changeRule, msg *model.Msg) error {
	switch r.T {
	case ruleSet:
		v, err := runtime.EvaluateNodeProperty(ctx, r.To, r.ToT, n.FlowNode, msg)
		if err != nil {
			return err
		}
		return runtime.SetNodeProperty(ctx, r.PT, r.P, model.DeepClone(v), n.FlowNode, msg)

	case ruleDelete:
		return runtime.DeleteNodeProperty(ctx, r.PT, r.P, n.FlowNode, msg)

	case ruleMove:
		v, err := runtime.EvaluateNodeProperty(ctx, r.P, r.PT, n.FlowNode, msg)
		if err != nil {
			return err
		}
		target := model.ToString(r.To)
		targetType := r.ToT
		if targetType == "" {
			targetType = runtime.PropMsg
		}
		if target == r.P && targetType == r.PT {
			return nil
		}
		if err := runtime.DeleteNodeProperty(ctx, r.PT, r.P, n.FlowNode, msg); err != nil {
			return err
		}
		return runtime.SetNodeProperty(ctx, targetType, target, v, n.FlowNode, msg)

	case ruleChange:
		return n.change(ctx, r, msg)
	}
	return nil
}

// change replaces the matching part of a string property, or the whole value
// of a number or boolean property equal to the from value.
func (n *changeNode) change(ctx context.Context, r *changeRule, msg *model.Msg) error {
	current, err := runtime.EvaluateNodeProperty(ctx, r.P, r.PT, n.FlowNode, msg)
	if err != nil || current == nil {
		return err
	}
	to, err := runtime.EvaluateNodeProperty(ctx, r.To, r.ToT, n.FlowNode, msg)
	if err != nil {
		return err
	}

	if r.fromRE != nil {
		s, ok := current.(string)
		if !ok {
			return nil
		}
		return runtime.SetNodeProperty(ctx, r.PT, r.P, r.fromRE.ReplaceAllString(s, model.ToString(to)), n.FlowNode, msg)
	}

	from, err := runtime.EvaluateNodeProperty(ctx, r.From, r.FromT, n.FlowNode, msg)
	if err != nil {
		return err
	}
	switch cur := current.(type) {
	case string:
		fromStr := model.ToString(from)
		if fromStr == "" || !strings.Contains(cur, fromStr) {
			return nil
		}
		if s, ok := to.(string); ok {
			return runtime.SetNodeProperty(ctx, r.PT, r.P, strings.ReplaceAll(cur, fromStr, s), n.FlowNode, msg)
		}
		if cur == fromStr {
			return runtime.SetNodeProperty(ctx, r.PT, r.P, to, n.FlowNode, msg)
		}
		return runtime.SetNodeProperty(ctx, r.PT, r.P, strings.ReplaceAll(cur, fromStr, model.ToString(to)), n.FlowNode, msg)
	case float64, bool:
		if model.LooseEqual(cur, from) {
			return runtime.SetNodeProperty(ctx, r.PT, r.P, to, n.FlowNode, msg)
		}
	}
	return nil
}
