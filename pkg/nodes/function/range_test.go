package function_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeNode(action string, round bool) map[string]any {
	return map[string]any{
		"type":     "range",
		"action":   action,
		"round":    round,
		"minin":    "0",
		"maxin":    "10",
		"minout":   "0",
		"maxout":   "100",
		"property": "payload",
	}
}

func TestRangeActions(t *testing.T) {
	tests := []struct {
		action string
		round  bool
		in     any
		want   any
	}{
		{"scale", false, float64(5), float64(50)},
		{"scale", false, float64(15), float64(150)},
		{"scale", true, float64(3.33), float64(33)},
		{"clamp", false, float64(15), float64(100)},
		{"clamp", false, float64(-2), float64(0)},
		{"roll", false, float64(12), float64(20)},
		{"roll", false, float64(-1), float64(90)},
		{"scale", false, "7", float64(70)},
		{"scale", false, "abc", "abc"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %v", tt.action, tt.in), func(t *testing.T) {
			engine := newEngine(t, portFlows(t, rangeNode(tt.action, tt.round), 1))
			msgs := send(t, engine, 1, payloads(tt.in)...)
			if f, ok := tt.want.(float64); ok {
				assert.InDelta(t, f, msgs[0].Payload(), 1e-9)
			} else {
				assert.Equal(t, tt.want, msgs[0].Payload())
			}
		})
	}
}

func TestRangeDropFiltersOutOfRange(t *testing.T) {
	engine := newEngine(t, portFlows(t, rangeNode("drop", false), 1))
	msgs := send(t, engine, 2, payloads(float64(20), float64(2), float64(4))...)
	assert.InDelta(t, 20.0, msgs[0].Payload(), 1e-9)
	assert.InDelta(t, 40.0, msgs[1].Payload(), 1e-9)
}

func TestRangeEmptyInputRangeFailsBuild(t *testing.T) {
	node := rangeNode("scale", false)
	node["maxin"] = "0"
	_, err := buildEngine(t, portFlows(t, node, 1))
	require.Error(t, err)
}
