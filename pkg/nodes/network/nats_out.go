package network

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/internal/breaker"
	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

type natsOutConfig struct {
	Broker  model.ElementID `json:"broker"`
	Subject string          `json:"subject"`
}

// natsOutNode publishes msg.payload to its subject, or to msg.topic when no
// subject is configured. A run of publish failures opens a circuit breaker
// and later messages fail fast until it probes again.
type natsOutNode struct {
	*runtime.FlowNode
	config  natsOutConfig
	breaker *breaker.Breaker
}

func newNatsOutNode(_ *runtime.Flow, base *runtime.FlowNode, cfg *flowsjson.NodeConfig) (runtime.Node, error) {
	var c natsOutConfig
	if err := runtime.DecodeNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.Broker.IsEmpty() {
		return nil, rwerrors.BadFlowsJSON("nats out %s has no broker", cfg.ID)
	}
	return &natsOutNode{FlowNode: base, config: c, breaker: breaker.New(breaker.DefaultConfig())}, nil
}

func (n *natsOutNode) Run(ctx context.Context) {
	broker, brokerErr := resolveBroker(n.Engine(), n.config.Broker)
	var conn *nats.Conn
	runtime.RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		if brokerErr != nil {
			return brokerErr
		}
		if conn == nil {
			c, err := broker.Conn(ctx)
			if err != nil {
				return err
			}
			conn = c
		}

		subject := n.config.Subject
		if subject == "" {
			topic, _ := msg.Get("topic")
			subject, _ = topic.(string)
		}
		if subject == "" {
			return rwerrors.InvalidData("no subject configured and msg.topic is not set")
		}

		data, err := encodePayload(msg.Payload())
		if err != nil {
			return err
		}
		return n.publish(conn, subject, data)
	})
}

func (n *natsOutNode) publish(conn *nats.Conn, subject string, data []byte) error {
	if !n.breaker.Allow() {
		return rwerrors.InvalidOperation("publishing to %s suspended after repeated failures", subject)
	}
	err := conn.Publish(subject, data)
	before := n.breaker.State()
	n.breaker.Record(err)
	if after := n.breaker.State(); after != before {
		n.Logger().Warn("Publish circuit changed state",
			zap.String("subject", subject),
			zap.Stringer("from", before),
			zap.Stringer("to", after),
			zap.Error(err))
	}
	return err
}

// encodePayload sends strings and buffers as they are and anything else as JSON.
func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		data, err := xjson.Marshal(v)
		if err != nil {
			return nil, rwerrors.InvalidData("cannot encode payload: %v", err)
		}
		return data, nil
	}
}
