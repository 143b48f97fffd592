// Package network implements the NATS messaging nodes: the nats-broker
// configuration node and the nats in and nats out flow nodes that use it.
package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	natsconn "github.com/wehubfusion/redwire/internal/nats"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

const TypeBroker = "nats-broker"

type brokerConfig struct {
	URL      string `json:"url"`
	Server   string `json:"server"`
	Port     any    `json:"port"`
	Name     string `json:"name"`
	Token    string `json:"token"`
	Username string `json:"user"`
	Password string `json:"password"`
}

// brokerNode owns one NATS connection shared by every nats in and nats out
// node that references it. The connection is opened when the node starts
// and drained when the engine stops.
type brokerNode struct {
	runtime.GlobalNodeBase
	config *natsconn.ConnectionConfig

	mu    sync.Mutex
	conn  *nats.Conn
	ready chan struct{}
}

func newBrokerNode(engine *runtime.Engine, cfg *flowsjson.GlobalNodeConfig) (runtime.GlobalNode, error) {
	var c brokerConfig
	if err := runtime.DecodeGlobalNodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	url := c.URL
	if url == "" && c.Server != "" {
		url = "nats://" + c.Server
		if port, ok := model.ToFloat(c.Port); ok && port > 0 {
			url = fmt.Sprintf("%s:%d", url, int(port))
		}
	}
	if url == "" {
		return nil, rwerrors.BadFlowsJSON("nats-broker %s has no url", cfg.ID)
	}

	conf := natsconn.DefaultConnectionConfig(url)
	if c.Name != "" {
		conf.Name = c.Name
	}
	conf.Token = c.Token
	conf.Username = c.Username
	conf.Password = c.Password

	return &brokerNode{
		GlobalNodeBase: runtime.NewGlobalNodeBase(engine, cfg.ID, cfg.Name, cfg.Type),
		config:         conf,
		ready:          make(chan struct{}),
	}, nil
}

func (b *brokerNode) Run(ctx context.Context) {
	conn := b.connect(ctx)
	if conn == nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	close(b.ready)
	b.mu.Unlock()
	b.Logger().Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))

	<-ctx.Done()
	if err := natsconn.Close(conn); err != nil {
		b.Logger().Warn("Failed to drain NATS connection", zap.Error(err))
	}
}

// connect retries until a connection is made or ctx ends.
func (b *brokerNode) connect(ctx context.Context) *nats.Conn {
	for {
		conn, err := natsconn.Connect(ctx, b.config, b.Logger())
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		b.Logger().Warn("NATS connection failed, retrying",
			zap.String("url", b.config.URL),
			zap.Duration("retry_in", b.config.ReconnectWait),
			zap.Error(err))
		select {
		case <-time.After(b.config.ReconnectWait):
		case <-ctx.Done():
			return nil
		}
	}
}

// Conn waits for the broker connection.
func (b *brokerNode) Conn(ctx context.Context) (*nats.Conn, error) {
	select {
	case <-b.ready:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.conn, nil
	case <-ctx.Done():
		return nil, rwerrors.ErrTaskCancelled
	}
}

// resolveBroker finds the nats-broker node a flow node points at.
func resolveBroker(engine *runtime.Engine, id model.ElementID) (*brokerNode, error) {
	gn, ok := engine.FindGlobalNode(id)
	if !ok {
		return nil, rwerrors.NotFound("nats-broker %s", id)
	}
	b, ok := gn.(*brokerNode)
	if !ok {
		return nil, rwerrors.BadFlowsJSON("node %s is a %s, not a nats-broker", id, gn.Type())
	}
	return b, nil
}
