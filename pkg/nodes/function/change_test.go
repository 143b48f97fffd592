package function_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/redwire/pkg/model"
)

func changeNode(rules ...map[string]any) map[string]any {
	rs := make([]any, len(rules))
	for i, r := range rules {
		rs[i] = r
	}
	return map[string]any{"type": "change", "rules": rs}
}

func TestChangeSetDeleteMove(t *testing.T) {
	engine := newEngine(t, portFlows(t, changeNode(
		map[string]any{"t": "set", "p": "payload.total", "pt": "msg", "to": "42", "tot": "num"},
		map[string]any{"t": "set", "p": "copy", "pt": "msg", "to": "payload.name", "tot": "msg"},
		map[string]any{"t": "delete", "p": "payload.secret", "pt": "msg"},
		map[string]any{"t": "move", "p": "topic", "pt": "msg", "to": "subject", "tot": "msg"},
		map[string]any{"t": "set", "p": "seen", "pt": "flow", "to": "true", "tot": "bool"},
	), 1))

	in := model.NewMsgWithBody(model.EmptyID, map[string]any{
		"payload": map[string]any{"name": "box", "secret": "x"},
		"topic":   "t1",
	})
	msgs := send(t, engine, 1, in)
	out := msgs[0]

	assert.Equal(t, map[string]any{"name": "box", "total": float64(42)}, out.Payload())
	cp, _ := out.Get("copy")
	assert.Equal(t, "box", cp)
	_, hasTopic := out.Get("topic")
	assert.False(t, hasTopic)
	subject, _ := out.Get("subject")
	assert.Equal(t, "t1", subject)

	flow, ok := engine.FindFlow(model.MustParseElementID(flowID))
	require.True(t, ok)
	seen, ok, err := flow.Context().Get(context.Background(), "", "seen")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, true, seen)
}

func TestChangeReplace(t *testing.T) {
	tests := []struct {
		name string
		rule map[string]any
		in   any
		want any
	}{
		{
			name: "substring",
			rule: map[string]any{"t": "change", "p": "payload", "pt": "msg", "from": "cat", "fromt": "str", "to": "dog", "tot": "str"},
			in:   "cat and cat",
			want: "dog and dog",
		},
		{
			name: "regex",
			rule: map[string]any{"t": "change", "p": "payload", "pt": "msg", "from": "[0-9]+", "fromt": "re", "to": "#", "tot": "str"},
			in:   "a1b22",
			want: "a#b#",
		},
		{
			name: "whole number",
			rule: map[string]any{"t": "change", "p": "payload", "pt": "msg", "from": "5", "fromt": "num", "to": "on", "tot": "str"},
			in:   float64(5),
			want: "on",
		},
		{
			name: "no match",
			rule: map[string]any{"t": "change", "p": "payload", "pt": "msg", "from": "zzz", "fromt": "str", "to": "y", "tot": "str"},
			in:   "abc",
			want: "abc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(t, portFlows(t, changeNode(tt.rule), 1))
			msgs := send(t, engine, 1, payloads(tt.in)...)
			assert.Equal(t, tt.want, msgs[0].Payload())
		})
	}
}

func TestChangeRelaysOnRuleFailure(t *testing.T) {
	engine := newEngine(t, portFlows(t, changeNode(
		map[string]any{"t": "set", "p": "payload", "pt": "msg", "to": "not json", "tot": "json"},
		map[string]any{"t": "set", "p": "after", "pt": "msg", "to": "yes", "tot": "str"},
	), 1))

	msgs := send(t, engine, 1, payloads("orig")...)
	assert.Equal(t, "orig", msgs[0].Payload())
	after, _ := msgs[0].Get("after")
	assert.Equal(t, "yes", after)
	_, hasErr := msgs[0].Get("error")
	assert.False(t, hasErr)
}

func TestChangeUnknownRuleFailsBuild(t *testing.T) {
	_, err := buildEngine(t, portFlows(t, changeNode(map[string]any{"t": "explode", "p": "payload"}), 1))
	require.Error(t, err)
}
