package common_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/redwire/internal/xjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/nodes/common"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

func newRegistry(t *testing.T) *runtime.Registry {
	t.Helper()
	reg := runtime.NewRegistry()
	require.NoError(t, common.Register(reg))
	return reg
}

func encode(t *testing.T, elements ...map[string]any) []byte {
	t.Helper()
	items := make([]any, 0, len(elements)+1)
	items = append(items, map[string]any{"id": "100", "type": "tab"})
	for _, e := range elements {
		e["z"] = "100"
		items = append(items, e)
	}
	data, err := xjson.Marshal(items)
	require.NoError(t, err)
	return data
}

func runOnce(t *testing.T, engine *runtime.Engine, expected int, injections ...runtime.Injection) []*model.Msg {
	t.Helper()
	msgs, err := engine.RunOnce(context.Background(), expected, 3*time.Second, injections)
	require.NoError(t, err)
	require.Len(t, msgs, expected)
	return msgs
}

func TestInjectProperties(t *testing.T) {
	flows := encode(t,
		map[string]any{
			"id": "2", "type": "inject",
			"props": []any{
				map[string]any{"p": "payload", "v": "7", "vt": "num"},
				map[string]any{"p": "topic", "v": "sensors", "vt": "str"},
				map[string]any{"p": "meta.tags", "v": `["a","b"]`, "vt": "json"},
			},
			"wires": []any{[]any{"9"}},
		},
		map[string]any{"id": "9", "type": "test-once"},
	)
	engine, err := runtime.NewEngineFromJSON(newRegistry(t), flows)
	require.NoError(t, err)

	msgs := runOnce(t, engine, 1, runtime.Injection{NodeID: model.MustParseElementID("2")})
	msg := msgs[0]
	assert.Equal(t, float64(7), msg.Payload())
	topic, _ := msg.Get("topic")
	assert.Equal(t, "sensors", topic)
	tags, ok := msg.GetNav("meta.tags")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, tags)
}

func TestInjectLegacyPayloadFields(t *testing.T) {
	flows := encode(t,
		map[string]any{
			"id": "2", "type": "inject",
			"payload": "hello", "payloadType": "str", "topic": "greeting",
			"wires": []any{[]any{"9"}},
		},
		map[string]any{"id": "9", "type": "test-once"},
	)
	engine, err := runtime.NewEngineFromJSON(newRegistry(t), flows)
	require.NoError(t, err)

	msgs := runOnce(t, engine, 1, runtime.Injection{NodeID: model.MustParseElementID("2")})
	assert.Equal(t, "hello", msgs[0].Payload())
	topic, _ := msgs[0].Get("topic")
	assert.Equal(t, "greeting", topic)
}

func TestInjectOnceFiresOnStart(t *testing.T) {
	flows := encode(t,
		map[string]any{
			"id": "2", "type": "inject", "once": true, "onceDelay": 0.01,
			"props": []any{map[string]any{"p": "payload", "v": "true", "vt": "bool"}},
			"wires": []any{[]any{"9"}},
		},
		map[string]any{"id": "9", "type": "test-once"},
	)
	engine, err := runtime.NewEngineFromJSON(newRegistry(t), flows)
	require.NoError(t, err)

	msgs := runOnce(t, engine, 1)
	assert.Equal(t, true, msgs[0].Payload())
}

func TestInjectRejectsBadCrontab(t *testing.T) {
	flows := encode(t, map[string]any{"id": "2", "type": "inject", "crontab": "not a schedule"})
	_, err := runtime.NewEngineFromJSON(newRegistry(t), flows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crontab")
}

func TestConsoleJSONWritesFramedRecords(t *testing.T) {
	flows := encode(t,
		map[string]any{"id": "3", "type": "console-json"},
		map[string]any{"id": "4", "type": "complete", "scope": []any{"3"}, "wires": []any{[]any{"9"}}},
		map[string]any{"id": "9", "type": "test-once"},
	)
	var out bytes.Buffer
	engine, err := runtime.NewEngineFromJSON(newRegistry(t), flows, runtime.WithStdout(&out))
	require.NoError(t, err)

	runOnce(t, engine, 1, runtime.Injection{
		NodeID: model.MustParseElementID("3"),
		Msg:    model.NewMsgWithPayload(model.EmptyID, map[string]any{"n": float64(1)}),
	})

	record := out.Bytes()
	require.NotEmpty(t, record)
	assert.Equal(t, byte(0x1e), record[0])
	assert.Equal(t, byte('\n'), record[len(record)-1])

	var decoded map[string]any
	require.NoError(t, xjson.Unmarshal(record[1:len(record)-1], &decoded))
	assert.Equal(t, map[string]any{"n": float64(1)}, decoded["payload"])
	assert.Contains(t, decoded, model.MsgIDProperty)
}

func TestDebugLogsProperty(t *testing.T) {
	tests := []struct {
		name     string
		complete any
		property string
		want     any
	}{
		{name: "payload by default", complete: "false", property: "payload", want: "v"},
		{name: "named property", complete: "topic", property: "topic", want: "t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flows := encode(t,
				map[string]any{"id": "3", "type": "debug", "complete": tt.complete},
				map[string]any{"id": "4", "type": "complete", "scope": []any{"3"}, "wires": []any{[]any{"9"}}},
				map[string]any{"id": "9", "type": "test-once"},
			)
			core, logs := observer.New(zap.InfoLevel)
			engine, err := runtime.NewEngineFromJSON(newRegistry(t), flows, runtime.WithLogger(zap.New(core)))
			require.NoError(t, err)

			in := model.NewMsgWithBody(model.EmptyID, map[string]any{"payload": "v", "topic": "t"})
			runOnce(t, engine, 1, runtime.Injection{NodeID: model.MustParseElementID("3"), Msg: in})

			entries := logs.FilterMessage("Debug").All()
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, tt.property, fields["property"])
			assert.Equal(t, tt.want, fields["value"])
		})
	}
}

func TestInactiveDebugStaysQuiet(t *testing.T) {
	flows := encode(t,
		map[string]any{"id": "3", "type": "debug", "active": false},
		map[string]any{"id": "4", "type": "complete", "scope": []any{"3"}, "wires": []any{[]any{"9"}}},
		map[string]any{"id": "9", "type": "test-once"},
	)
	core, logs := observer.New(zap.InfoLevel)
	engine, err := runtime.NewEngineFromJSON(newRegistry(t), flows, runtime.WithLogger(zap.New(core)))
	require.NoError(t, err)

	runOnce(t, engine, 1, runtime.Injection{
		NodeID: model.MustParseElementID("3"),
		Msg:    model.NewMsgWithPayload(model.EmptyID, "quiet"),
	})
	assert.Zero(t, logs.FilterMessage("Debug").Len())
}
