package common

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

type injectProp struct {
	P  string `json:"p"`
	V  any    `json:"v"`
	VT string `json:"vt"`
}

type injectConfig struct {
	Props       []map[string]any `json:"props"`
	Payload     any              `json:"payload"`
	PayloadType string           `json:"payloadType"`
	Topic       any              `json:"topic"`
	Repeat      any              `json:"repeat"`
	Crontab     string           `json:"crontab"`
	Once        bool             `json:"once"`
	OnceDelay   any              `json:"onceDelay"`
}

// injectNode emits messages built from its properties: once after start,
// every repeat interval, on a cron schedule, or when triggered.
type injectNode struct {
	*runtime.FlowNode
	props     []injectProp
	once      bool
	onceDelay time.Duration
	repeat    time.Duration
	schedule  cron.Schedule
}

func newInjectNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	var c injectConfig
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	n := &injectNode{
		FlowNode: base,
		props:    injectProps(&c),
		once:     c.Once,
	}
	if secs, ok := model.ToFloat(c.OnceDelay); ok && secs > 0 {
		n.onceDelay = time.Duration(secs * float64(time.Second))
	}
	if secs, ok := model.ToFloat(c.Repeat); ok && secs > 0 {
		n.repeat = time.Duration(secs * float64(time.Second))
	}
	if c.Crontab != "" && n.repeat == 0 {
		schedule, err := cron.ParseStandard(c.Crontab)
		if err != nil {
			return nil, rwerrors.BadFlowsJSON("inject node %s: bad crontab %q: %v", cfg.ID, c.Crontab, err)
		}
		n.schedule = schedule
	}
	return n, nil
}

// injectProps applies the legacy payload and topic fields of older flows.
func injectProps(c *injectConfig) []injectProp {
	if c.Props == nil {
		return []injectProp{
			{P: "payload", V: c.Payload, VT: c.PayloadType},
			{P: "topic", V: c.Topic, VT: runtime.PropStr},
		}
	}
	props := make([]injectProp, 0, len(c.Props))
	for _, raw := range c.Props {
		p := injectProp{}
		p.P, _ = raw["p"].(string)
		p.VT, _ = raw["vt"].(string)
		v, hasV := raw["v"]
		p.V = v
		switch {
		case p.P == "payload" && !hasV:
			p.V = c.Payload
			p.VT = c.PayloadType
		case p.P == "topic" && p.VT == runtime.PropStr && !hasV:
			p.V = c.Topic
		}
		if p.P == "" {
			continue
		}
		props = append(props, p)
	}
	return props
}

func (n *injectNode) Run(ctx context.Context) {
	if n.once {
		if !sleepCtx(ctx, n.onceDelay) {
			return
		}
		n.fire(ctx)
	}

	switch {
	case n.repeat > 0:
		ticker := time.NewTicker(n.repeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.fire(ctx)
			case <-ctx.Done():
				return
			}
		}
	case n.schedule != nil:
		c := cron.New()
		c.Schedule(n.schedule, cron.FuncJob(func() { n.fire(ctx) }))
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
	default:
		<-ctx.Done()
	}
}

// Trigger injects one message, like pressing the button of the node.
func (n *injectNode) Trigger(ctx context.Context) error {
	return n.inject(ctx)
}

func (n *injectNode) fire(ctx context.Context) {
	if err := n.inject(ctx); err != nil && !rwerrors.IsCancelled(err) {
		n.Logger().Warn("Failed to inject message", zap.Error(err))
	}
}

func (n *injectNode) inject(ctx context.Context) error {
	msg := model.NewMsg(n.ID())
	delete(msg.Body, "payload")
	for _, p := range n.props {
		v, err := runtime.EvaluateNodeProperty(ctx, p.V, p.VT, n.FlowNode, nil)
		if err != nil {
			return err
		}
		if err := msg.SetNav(p.P, v, true); err != nil {
			return err
		}
	}
	n.NotifyUOWCompleted(ctx, msg.Clone())
	return n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg})
}

// sleepCtx waits for d and reports false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
