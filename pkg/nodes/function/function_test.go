package function_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/redwire/pkg/model"
)

func TestFunctionMultipleOutputs(t *testing.T) {
	engine := newEngine(t, portFlows(t, map[string]any{
		"type":    "function",
		"outputs": 3,
		"func":    "return [{payload: 'a'}, null, [{payload: 'b1'}, {payload: 'b2'}]];",
	}, 3))

	in := model.NewMsgWithPayload(model.EmptyID, nil)
	msgs := send(t, engine, 3, in)

	got := map[any]int{}
	for _, m := range msgs {
		got[m.Payload()] = port(t, m)
		assert.Equal(t, in.ID, m.ID)
	}
	assert.Equal(t, map[any]int{"a": 0, "b1": 2, "b2": 2}, got)
}

func TestFunctionNodeSend(t *testing.T) {
	engine := newEngine(t, portFlows(t, map[string]any{
		"type": "function",
		"func": "node.send({payload: msg.payload + '!'}); return null;",
	}, 1))

	msgs := send(t, engine, 1, payloads("hi")...)
	assert.Equal(t, "hi!", msgs[0].Payload())
}

func TestFunctionSandbox(t *testing.T) {
	engine := newEngine(t, portFlows(t, map[string]any{
		"type": "function",
		"func": "msg.payload = [typeof require, typeof process, typeof JSON]; return msg;",
	}, 1))

	msgs := send(t, engine, 1, payloads(nil)...)
	assert.Equal(t, []any{"undefined", "undefined", "object"}, msgs[0].Payload())
}

func TestFunctionTimeoutIsReported(t *testing.T) {
	engine := newEngine(t, portFlows(t, map[string]any{
		"type":    "function",
		"timeout": 0.05,
		"func":    "while (true) {}",
	}, 1))

	msgs := send(t, engine, 1, payloads("spin")...)
	message, ok := msgs[0].GetNav("error.message")
	require.True(t, ok)
	assert.Contains(t, message, "interrupted")
	assert.Equal(t, "spin", msgs[0].Payload())
}

func TestFunctionInitializeAndEnv(t *testing.T) {
	engine := newEngine(t, portFlows(t, map[string]any{
		"type":       "function",
		"name":       "counter",
		"initialize": "context.set('n', 10);",
		"func":       "var n = context.get('n') + 1; context.set('n', n); msg.payload = n; msg.who = env.get('NR_NODE_NAME'); return msg;",
	}, 1))

	msgs := send(t, engine, 2, payloads(nil, nil)...)
	assert.Equal(t, float64(11), msgs[0].Payload())
	assert.Equal(t, float64(12), msgs[1].Payload())
	who, _ := msgs[0].Get("who")
	assert.Equal(t, "counter", who)
}

func TestFunctionSyntaxErrorFailsBuild(t *testing.T) {
	flows := portFlows(t, map[string]any{"type": "function", "func": "return {"}, 1)
	_, err := buildEngine(t, flows)
	require.Error(t, err)
}
