package common

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/internal/xjson"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

type debugConfig struct {
	Active   *bool `json:"active"`
	Complete any   `json:"complete"`
}

// debugNode logs the configured property of every message it receives.
type debugNode struct {
	*runtime.FlowNode
	active   bool
	property string
}

func newDebugNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	var c debugConfig
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	n := &debugNode{FlowNode: base, active: c.Active == nil || *c.Active, property: "payload"}
	switch v := c.Complete.(type) {
	case bool:
		if v {
			n.property = ""
		}
	case string:
		switch v {
		case "true":
			n.property = ""
		case "", "false":
		default:
			n.property = v
		}
	}
	return n, nil
}

func (n *debugNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		if !n.active {
			return nil
		}
		var value any
		if n.property == "" {
			value = msg.ToMap()
		} else {
			value, _ = msg.GetNav(n.property)
		}
		n.Logger().Info("Debug",
			zap.String("msg_id", msg.ID.String()),
			zap.String("property", n.property),
			zap.Any("value", value))
		return nil
	})
}

// consoleMu serialises records from all console-json nodes sharing a writer.
var consoleMu sync.Mutex

// consoleJSONNode writes each message as one record-separator framed JSON
// line (RFC 7464) to the engine stdout.
type consoleJSONNode struct {
	*runtime.FlowNode
	out io.Writer
}

func newConsoleJSONNode(flow *runtime.Flow, base *runtime.FlowNode, _ *flowsjson.NodeConfig) (runtime.Node, error) {
	return &consoleJSONNode{FlowNode: base, out: flow.Engine().Stdout()}, nil
}

func (n *consoleJSONNode) Run(ctx context.Context) {
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		data, err := xjson.Marshal(msg.ToMap())
		if err != nil {
			return err
		}
		record := make([]byte, 0, len(data)+2)
		record = append(record, 0x1e)
		record = append(record, data...)
		record = append(record, '\n')

		consoleMu.Lock()
		defer consoleMu.Unlock()
		_, err = n.out.Write(record)
		return err
	})
}
