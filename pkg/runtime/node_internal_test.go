package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
	"github.com/wehubfusion/redwire/pkg/model"
)

// passNode forwards everything out of port 0.
type passNode struct {
	*FlowNode
}

func (n *passNode) Run(ctx context.Context) {
	RunUOWLoop(ctx, n.FlowNode, func(ctx context.Context, msg *model.Msg) error {
		return n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg})
	})
}

func newPassEngine(t *testing.T, flows string) *Engine {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFlowNode("pass", func(_ *Flow, base *FlowNode, _ *flowsjson.NodeConfig) (Node, error) {
		return &passNode{FlowNode: base}, nil
	}))
	engine, err := NewEngineFromJSON(reg, []byte(flows))
	require.NoError(t, err)
	return engine
}

func flowNode(t *testing.T, engine *Engine, id string) *FlowNode {
	t.Helper()
	n, ok := engine.FindFlowNodeByID(model.MustParseElementID(id))
	require.True(t, ok)
	return n.Base()
}

const fanOutFlows = `[
	{"id": "100", "type": "tab"},
	{"id": "1", "type": "pass", "z": "100", "wires": [["2", "3"], []]},
	{"id": "2", "type": "pass", "z": "100", "wires": [[]]},
	{"id": "3", "type": "pass", "z": "100", "wires": [[]]},
	{"id": "4", "type": "pass", "z": "100", "outputs": 2, "wires": []}
]`

func TestFanOutFirstWireGetsOriginal(t *testing.T) {
	engine := newPassEngine(t, fanOutFlows)
	src := flowNode(t, engine, "1")
	first, second := flowNode(t, engine, "2"), flowNode(t, engine, "3")

	require.Len(t, src.Ports(), 2)
	require.Len(t, src.Ports()[0].Wires, 2)

	msg := model.NewMsgWithPayload(model.EmptyID, map[string]any{"n": float64(1)})
	require.NoError(t, src.FanOutOne(context.Background(), model.Envelope{Port: 0, Msg: msg}))

	require.Len(t, first.inbound, 1)
	require.Len(t, second.inbound, 1)
	got1, got2 := <-first.inbound, <-second.inbound
	assert.Same(t, msg, got1)
	assert.NotSame(t, msg, got2)
	assert.Equal(t, msg.ID, got2.ID)
	assert.Equal(t, msg.Body, got2.Body)

	got2.Payload().(map[string]any)["n"] = float64(2)
	assert.Equal(t, float64(1), msg.Payload().(map[string]any)["n"])
}

func TestFanOutPortBounds(t *testing.T) {
	engine := newPassEngine(t, fanOutFlows)
	src := flowNode(t, engine, "1")
	ctx := context.Background()

	require.NoError(t, src.FanOutOne(ctx, model.Envelope{Port: 1, Msg: model.NewMsg(model.EmptyID)}))
	assert.Empty(t, flowNode(t, engine, "2").inbound)
	assert.Empty(t, flowNode(t, engine, "3").inbound)

	for _, port := range []int{-1, 2, 7} {
		err := src.FanOutOne(ctx, model.Envelope{Port: port, Msg: model.NewMsg(model.EmptyID)})
		assert.ErrorIs(t, err, rwerrors.ErrBadArguments, "port %d", port)
	}
}

func TestPortsFollowDeclaredOutputs(t *testing.T) {
	engine := newPassEngine(t, fanOutFlows)
	n := flowNode(t, engine, "4")
	require.Len(t, n.Ports(), 2)

	ctx := context.Background()
	assert.NoError(t, n.FanOutOne(ctx, model.Envelope{Port: 1, Msg: model.NewMsg(model.EmptyID)}))
	assert.ErrorIs(t, n.FanOutOne(ctx, model.Envelope{Port: 2, Msg: model.NewMsg(model.EmptyID)}), rwerrors.ErrBadArguments)

	sink := flowNode(t, engine, "2")
	assert.ErrorIs(t, sink.FanOutOne(ctx, model.Envelope{Port: 1, Msg: model.NewMsg(model.EmptyID)}), rwerrors.ErrBadArguments)
}

// runOneUOW queues msg on node and runs a single unit of work over it,
// returning what completion observers saw.
func runOneUOW(t *testing.T, node *FlowNode, msg *model.Msg, fn UOWFunc) []*model.Msg {
	t.Helper()
	completed, unsubscribe := node.Subscribe(EventCompleted)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, node.InjectMsg(ctx, msg))
	require.NoError(t, WithUOW(ctx, node, fn))

	var seen []*model.Msg
	for {
		select {
		case m := <-completed:
			seen = append(seen, m)
		default:
			return seen
		}
	}
}

func TestWithUOWCompletesOncePerMessage(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(n *FlowNode) UOWFunc
		payload any
	}{
		{
			name: "forwarded after update",
			fn: func(n *FlowNode) UOWFunc {
				return func(ctx context.Context, msg *model.Msg) error {
					msg.Set("payload", "changed")
					return n.FanOutOne(ctx, model.Envelope{Port: 0, Msg: msg})
				}
			},
			payload: "changed",
		},
		{
			name: "failure",
			fn: func(*FlowNode) UOWFunc {
				return func(context.Context, *model.Msg) error {
					return errors.New("boom")
				}
			},
			payload: "orig",
		},
		{
			name: "panic",
			fn: func(*FlowNode) UOWFunc {
				return func(context.Context, *model.Msg) error {
					panic("boom")
				}
			},
			payload: "orig",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newPassEngine(t, fanOutFlows)
			node := flowNode(t, engine, "2")
			msg := model.NewMsgWithPayload(model.EmptyID, "orig")

			seen := runOneUOW(t, node, msg, tt.fn(node))
			require.Len(t, seen, 1)
			assert.Equal(t, msg.ID, seen[0].ID)
			assert.Equal(t, tt.payload, seen[0].Payload())
		})
	}
}

func TestWithUOWCancelledReceiveHasNoEffect(t *testing.T) {
	engine := newPassEngine(t, fanOutFlows)
	node := flowNode(t, engine, "2")
	completed, unsubscribe := node.Subscribe(EventCompleted)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithUOW(ctx, node, func(context.Context, *model.Msg) error {
		t.Fatal("nothing was received")
		return nil
	})
	assert.ErrorIs(t, err, rwerrors.ErrTaskCancelled)
	assert.Empty(t, completed)
}
