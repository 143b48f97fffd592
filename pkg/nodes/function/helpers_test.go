package function_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/redwire/internal/xjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/nodes/common"
	"github.com/wehubfusion/redwire/pkg/nodes/function"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

const (
	flowID        = "100"
	nodeUnderTest = "2"
	catchID       = "5"
	finalID       = "9"
)

// portFlows places node on a tab with every output port wired through a
// change node that records the port number in msg.port, and a catch node
// scoped to node. Everything ends in one test-once node.
func portFlows(t *testing.T, node map[string]any, ports int) []byte {
	t.Helper()
	node["id"] = nodeUnderTest
	node["z"] = flowID
	wires := make([]any, ports)
	elements := []any{
		map[string]any{"id": flowID, "type": "tab"},
		node,
		map[string]any{"id": catchID, "type": "catch", "z": flowID, "scope": []any{nodeUnderTest}, "wires": []any{[]any{finalID}}},
		map[string]any{"id": finalID, "type": "test-once", "z": flowID, "wires": []any{}},
	}
	for i := 0; i < ports; i++ {
		id := fmt.Sprintf("a%x", i)
		wires[i] = []any{id}
		elements = append(elements, map[string]any{
			"id": id, "type": "change", "z": flowID,
			"rules": []any{map[string]any{"t": "set", "p": "port", "pt": "msg", "to": fmt.Sprint(i), "tot": "num"}},
			"wires": []any{[]any{finalID}},
		})
	}
	node["wires"] = wires
	data, err := xjson.Marshal(elements)
	require.NoError(t, err)
	return data
}

func buildEngine(t *testing.T, flows []byte) (*runtime.Engine, error) {
	t.Helper()
	reg := runtime.NewRegistry()
	require.NoError(t, common.Register(reg))
	require.NoError(t, function.Register(reg))
	return runtime.NewEngineFromJSON(reg, flows)
}

func newEngine(t *testing.T, flows []byte) *runtime.Engine {
	t.Helper()
	engine, err := buildEngine(t, flows)
	require.NoError(t, err)
	return engine
}

// send injects one message per payload into the node under test and
// collects expected results.
func send(t *testing.T, engine *runtime.Engine, expected int, msgs ...*model.Msg) []*model.Msg {
	t.Helper()
	injections := make([]runtime.Injection, len(msgs))
	for i, m := range msgs {
		injections[i] = runtime.Injection{NodeID: model.MustParseElementID(nodeUnderTest), Msg: m}
	}
	out, err := engine.RunOnce(context.Background(), expected, 3*time.Second, injections)
	require.NoError(t, err)
	require.Len(t, out, expected)
	return out
}

func payloads(values ...any) []*model.Msg {
	msgs := make([]*model.Msg, len(values))
	for i, v := range values {
		msgs[i] = model.NewMsgWithPayload(model.EmptyID, v)
	}
	return msgs
}

func port(t *testing.T, msg *model.Msg) int {
	t.Helper()
	v, ok := msg.Get("port")
	require.True(t, ok, "message did not pass a port recorder")
	f, ok := model.ToFloat(v)
	require.True(t, ok)
	return int(f)
}
