package function_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/redwire/pkg/model"
)

func switchNode(checkAll bool, rules ...map[string]any) map[string]any {
	rs := make([]any, len(rules))
	for i, r := range rules {
		rs[i] = r
	}
	return map[string]any{
		"type":         "switch",
		"property":     "payload",
		"propertyType": "msg",
		"checkall":     checkAll,
		"rules":        rs,
	}
}

// portsByPayload keys the recorded port by payload, since messages leaving
// different ports race each other to the end of the flow.
func portsByPayload(t *testing.T, msgs []*model.Msg) map[string]int {
	t.Helper()
	out := make(map[string]int, len(msgs))
	for _, m := range msgs {
		out[fmt.Sprint(m.Payload())] = port(t, m)
	}
	return out
}

func TestSwitchRoutesToEveryMatch(t *testing.T) {
	engine := newEngine(t, portFlows(t, switchNode(true,
		map[string]any{"t": "gt", "v": "10", "vt": "num"},
		map[string]any{"t": "btwn", "v": "20", "vt": "num", "v2": "0", "v2t": "num"},
		map[string]any{"t": "eq", "v": "15", "vt": "num"},
		map[string]any{"t": "else"},
	), 4))

	msgs := send(t, engine, 3, payloads(float64(15))...)
	ports := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ports = append(ports, port(t, m))
		assert.Equal(t, float64(15), m.Payload())
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, ports)
}

func TestSwitchStopsAtFirstMatch(t *testing.T) {
	engine := newEngine(t, portFlows(t, switchNode(false,
		map[string]any{"t": "cont", "v": "ell", "vt": "str"},
		map[string]any{"t": "regex", "v": "^HEL", "vt": "str", "case": true},
		map[string]any{"t": "else"},
	), 3))

	msgs := send(t, engine, 2, payloads("hello", "bye")...)
	assert.Equal(t, map[string]int{"hello": 0, "bye": 2}, portsByPayload(t, msgs))
}

func TestSwitchValueRules(t *testing.T) {
	engine := newEngine(t, portFlows(t, switchNode(false,
		map[string]any{"t": "null"},
		map[string]any{"t": "true"},
		map[string]any{"t": "empty"},
		map[string]any{"t": "lt", "v": "b", "vt": "str"},
		map[string]any{"t": "else"},
	), 5))

	msgs := send(t, engine, 5, payloads(nil, true, "", "a", "z")...)
	assert.Equal(t, map[string]int{
		"<nil>": 0,
		"true":  1,
		"":      2,
		"a":     3,
		"z":     4,
	}, portsByPayload(t, msgs))
}

func TestSwitchBadRegexFailsBuild(t *testing.T) {
	_, err := buildEngine(t, portFlows(t, switchNode(true, map[string]any{"t": "regex", "v": "(", "vt": "str"}), 1))
	require.Error(t, err)
}
