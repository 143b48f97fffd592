package runtime

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

func TestEvaluateNodePropertyLiterals(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		value any
		typ   string
		want  any
	}{
		{"string", "abc", PropStr, "abc"},
		{"empty type", "abc", "", "abc"},
		{"number from string", " 12.5 ", PropNum, 12.5},
		{"number", float64(7), PropNum, float64(7)},
		{"bool true", "true", PropBool, true},
		{"bool other", "yes", PropBool, false},
		{"bool native", true, PropBool, true},
		{"json", `{"a": 1}`, PropJSON, map[string]any{"a": float64(1)}},
		{"buffer", "[1, 2, 255]", PropBin, []byte{1, 2, 255}},
		{"buffer text", "hi", PropBin, []byte("hi")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateNodeProperty(ctx, tt.value, tt.typ, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateNodePropertyErrors(t *testing.T) {
	ctx := context.Background()

	_, err := EvaluateNodeProperty(ctx, "abc", PropNum, nil, nil)
	assert.ErrorIs(t, err, rwerrors.ErrInvalidData)

	_, err = EvaluateNodeProperty(ctx, "{", PropJSON, nil, nil)
	assert.ErrorIs(t, err, rwerrors.ErrInvalidData)

	_, err = EvaluateNodeProperty(ctx, "[300]", PropBin, nil, nil)
	assert.ErrorIs(t, err, rwerrors.ErrInvalidData)

	_, err = EvaluateNodeProperty(ctx, "$.x", PropJSONata, nil, nil)
	assert.ErrorIs(t, err, rwerrors.ErrUnsupported)

	_, err = EvaluateNodeProperty(ctx, "x", "nope", nil, nil)
	assert.ErrorIs(t, err, rwerrors.ErrUnsupported)
}

func TestEvaluateNodePropertyMsg(t *testing.T) {
	msg := model.NewMsgWithPayload(model.EmptyID, map[string]any{"a": []any{"x", "y"}})
	got, err := EvaluateNodeProperty(context.Background(), "msg.payload.a[1]", PropMsg, nil, msg)
	require.NoError(t, err)
	assert.Equal(t, "y", got)

	got, err = EvaluateNodeProperty(context.Background(), "payload", PropMsg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvaluateNodePropertyRegexAndDate(t *testing.T) {
	got, err := EvaluateNodeProperty(context.Background(), "^a+$", PropRegex, nil, nil)
	require.NoError(t, err)
	re, ok := got.(*regexp.Regexp)
	require.True(t, ok)
	assert.True(t, re.MatchString("aaa"))

	got, err = EvaluateNodeProperty(context.Background(), "", PropDate, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, got.(float64), float64(0))
}

func TestSetNodePropertyRejectsLiterals(t *testing.T) {
	msg := model.NewMsg(model.EmptyID)
	require.NoError(t, SetNodeProperty(context.Background(), PropMsg, "a.b", "v", nil, msg))
	v, ok := msg.GetNav("a.b")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, DeleteNodeProperty(context.Background(), PropMsg, "a.b", nil, msg))
	_, ok = msg.GetNav("a.b")
	assert.False(t, ok)

	assert.ErrorIs(t, SetNodeProperty(context.Background(), PropStr, "x", 1, nil, msg), rwerrors.ErrBadArguments)
}
