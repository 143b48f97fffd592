package network

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

// Payload decodings of nats in.
const (
	DataTypeUTF8   = "utf8"
	DataTypeJSON   = "json"
	DataTypeBuffer = "buffer"
)

type natsInConfig struct {
	Broker   model.ElementID `json:"broker"`
	Subject  string          `json:"subject"`
	Queue    string          `json:"queue"`
	DataType string          `json:"datatype"`
}

// natsInNode emits one message per NATS message received on its subject,
// with the subject as msg.topic.
type natsInNode struct {
	*runtime.FlowNode
	config natsInConfig
}

func newNatsInNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	var c natsInConfig
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.Broker.IsEmpty() {
		return nil, rwerrors.BadFlowsJSON("nats in %s has no broker", cfg.ID)
	}
	if c.Subject == "" {
		return nil, rwerrors.BadFlowsJSON("nats in %s has no subject", cfg.ID)
	}
	switch c.DataType {
	case "":
		c.DataType = DataTypeUTF8
	case DataTypeUTF8, DataTypeJSON, DataTypeBuffer:
	default:
		return nil, rwerrors.BadFlowsJSON("nats in %s: unknown datatype %q", cfg.ID, c.DataType)
	}
	return &natsInNode{FlowNode: base, config: c}, nil
}

func (n *natsInNode) Run(ctx context.Context) {
	broker, err := resolveBroker(n.Engine(), n.config.Broker)
	if err != nil {
		n.Logger().Error("Cannot start nats in", zap.Error(err))
		<-ctx.Done()
		return
	}
	conn, err := broker.Conn(ctx)
	if err != nil {
		return
	}

	incoming := make(chan *nats.Msg, n.Engine().Config().NodeMsgQueueCapacity)
	var sub *nats.Subscription
	if n.config.Queue != "" {
		sub, err = conn.ChanQueueSubscribe(n.config.Subject, n.config.Queue, incoming)
	} else {
		sub, err = conn.ChanSubscribe(n.config.Subject, incoming)
	}
	if err != nil {
		n.Logger().Error("Failed to subscribe",
			zap.String("subject", n.config.Subject),
			zap.Error(err))
		<-ctx.Done()
		return
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrConnectionDraining {
			n.Logger().Debug("Unsubscribe failed", zap.Error(err))
		}
	}()
	n.Logger().Info("Subscribed",
		zap.String("subject", n.config.Subject),
		zap.String("queue", n.config.Queue))

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-incoming:
			msg := n.toMsg(m)
			n.NotifyUOWCompleted(ctx, msg.Clone())
			if err := n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg}); err != nil {
				return
			}
		}
	}
}

func (n *natsInNode) toMsg(m *nats.Msg) *model.Msg {
	msg := model.NewMsg(n.ID())
	msg.Set("topic", m.Subject)
	if m.Reply != "" {
		msg.Set("_replyTo", m.Reply)
	}
	switch n.config.DataType {
	case DataTypeBuffer:
		msg.Set("payload", append([]byte(nil), m.Data...))
	case DataTypeJSON:
		var v any
		if err := xjson.Unmarshal(m.Data, &v); err != nil {
			n.Logger().Warn("Payload is not JSON, passing it as text",
				zap.String("subject", m.Subject),
				zap.Error(err))
			msg.Set("payload", string(m.Data))
		} else {
			msg.Set("payload", v)
		}
	default:
		msg.Set("payload", string(m.Data))
	}
	return msg
}
