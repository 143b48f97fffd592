package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementIDRoundTrip(t *testing.T) {
	id, err := ParseElementID("dee0d1b0cfd62a6c")
	require.NoError(t, err)
	assert.Equal(t, ElementID(0xdee0d1b0cfd62a6c), id)
	assert.Equal(t, "dee0d1b0cfd62a6c", id.String())

	short, err := ParseElementID("100")
	require.NoError(t, err)
	assert.Equal(t, "0000000000000100", short.String())

	_, err = ParseElementID("not-hex")
	assert.Error(t, err)
	_, err = ParseElementID("")
	assert.Error(t, err)
	_, err = ParseElementID("11112222333344445")
	assert.Error(t, err)
}

func TestNewElementIDIsNonZero(t *testing.T) {
	seen := make(map[ElementID]struct{})
	for i := 0; i < 1000; i++ {
		id := NewElementID()
		require.False(t, id.IsEmpty())
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestCombineIsBijection(t *testing.T) {
	sid := NewElementID()
	seen := make(map[ElementID]ElementID)
	for i := uint64(1); i <= 500; i++ {
		remapped, err := Combine(sid, ElementID(i))
		require.NoError(t, err)
		if prev, dup := seen[remapped]; dup {
			t.Fatalf("ids %s and %d collided", prev, i)
		}
		seen[remapped] = ElementID(i)

		back, err := Combine(sid, remapped)
		require.NoError(t, err)
		assert.Equal(t, ElementID(i), back)
	}

	_, err := Combine(EmptyID, sid)
	assert.Error(t, err)
	_, err = Combine(sid, EmptyID)
	assert.Error(t, err)
}

func TestParsePropex(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []Segment
	}{
		{"single", "payload", []Segment{{Key: "payload"}}},
		{"nested", "payload.a.b", []Segment{{Key: "payload"}, {Key: "a"}, {Key: "b"}}},
		{"index", "payload[2]", []Segment{{Key: "payload"}, {Index: 2, IsIndex: true}}},
		{"quoted", `payload["x y"]['z']`, []Segment{{Key: "payload"}, {Key: "x y"}, {Key: "z"}}},
		{"mixed", "a.b[0].c", []Segment{{Key: "a"}, {Key: "b"}, {Index: 0, IsIndex: true}, {Key: "c"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePropex(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", ".a", "a..b", "a[", "a[x]", `a["x]`, "a b"} {
		_, err := ParsePropex(bad)
		assert.Error(t, err, bad)
	}
}

func TestMsgNavigation(t *testing.T) {
	msg := NewMsgWithBody(EmptyID, map[string]any{
		"payload": map[string]any{"items": []any{1.0, map[string]any{"name": "x"}}},
	})

	v, ok := msg.GetNav("msg.payload.items[1].name")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = msg.GetNav("payload.missing")
	assert.False(t, ok)

	require.NoError(t, msg.SetNav("payload.items[3]", "y", true))
	v, ok = msg.GetNav("payload.items[3]")
	require.True(t, ok)
	assert.Equal(t, "y", v)

	require.NoError(t, msg.SetNav("topic.deep.value", 1.0, true))
	v, _ = msg.GetNav("topic.deep.value")
	assert.Equal(t, 1.0, v)

	assert.Error(t, msg.SetNav("other.deep", 1.0, false))

	assert.True(t, msg.DeleteNav("topic.deep"))
	_, ok = msg.GetNav("topic.deep")
	assert.False(t, ok)
}

func TestMsgCloneIsIndependent(t *testing.T) {
	msg := NewMsgWithBody(EmptyID, map[string]any{
		"payload": map[string]any{"list": []any{"a"}},
	})
	msg.PushLinkFrame(LinkCallFrame{EventID: 1, FlowID: 2, LinkCallNodeID: 3})

	clone := msg.Clone()
	assert.Equal(t, msg.ID, clone.ID)
	assert.Equal(t, msg.Body, clone.Body)

	require.NoError(t, clone.SetNav("payload.list[0]", "changed", false))
	clone.PopLinkFrame()

	v, _ := msg.GetNav("payload.list[0]")
	assert.Equal(t, "a", v)
	assert.Len(t, msg.LinkCallStack, 1)
}

func TestMsgJSON(t *testing.T) {
	msg := NewMsgWithPayload(EmptyID, "hello")
	msg.PushLinkFrame(LinkCallFrame{EventID: 0xa, FlowID: 0xb, LinkCallNodeID: 0xc})

	data, err := msg.MarshalJSON()
	require.NoError(t, err)

	var back Msg
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, msg.ID, back.ID)
	assert.Equal(t, "hello", back.Payload())
	require.Len(t, back.LinkCallStack, 1)
	assert.Equal(t, ElementID(0xc), back.LinkCallStack[0].LinkCallNodeID)
	assert.False(t, back.Contains(MsgIDProperty))
}

func TestPopLinkFrameOnEmptyStack(t *testing.T) {
	msg := NewMsg(EmptyID)
	_, ok := msg.PopLinkFrame()
	assert.False(t, ok)
}

func TestLooseEqual(t *testing.T) {
	assert.True(t, LooseEqual(1.0, "1"))
	assert.True(t, LooseEqual("a", "a"))
	assert.False(t, LooseEqual("a", nil))
	assert.True(t, LooseEqual(nil, nil))
	assert.True(t, LooseEqual(map[string]any{"a": 1.0}, map[string]any{"a": 1.0}))
}
