package contextstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

func TestParseStoreKey(t *testing.T) {
	tests := []struct {
		in        string
		wantStore string
		wantKey   string
	}{
		{"count", "", "count"},
		{"#:(file)::count", "file", "count"},
		{"#:(memory)::stats.hits[0]", "memory", "stats.hits[0]"},
		{"#:()::x", "", "#:()::x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			store, key := ParseStoreKey(tt.in)
			assert.Equal(t, tt.wantStore, store)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	_, err := s.Get(ctx, "n1", "missing")
	assert.True(t, rwerrors.IsNotFound(err))

	require.NoError(t, s.Set(ctx, "n1", "count", 3.0))
	require.NoError(t, s.Set(ctx, "n1", "obj", map[string]any{"a": "b"}))
	require.NoError(t, s.Set(ctx, "n2", "count", 1.0))
	require.NoError(t, s.Set(ctx, GlobalScope, "g", true))

	v, err := s.Get(ctx, "n1", "count")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
	v, err = s.Get(ctx, "n1", "obj")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "b"}, v)

	keys, err := s.Keys(ctx, "n1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"count", "obj"}, keys)

	require.NoError(t, s.Delete(ctx, "n1", "obj"))
	_, err = s.Get(ctx, "n1", "obj")
	assert.True(t, rwerrors.IsNotFound(err))

	require.NoError(t, s.Clean(ctx, []string{"n1"}))
	_, err = s.Get(ctx, "n2", "count")
	assert.True(t, rwerrors.IsNotFound(err))
	_, err = s.Get(ctx, "n1", "count")
	assert.NoError(t, err)
	_, err = s.Get(ctx, GlobalScope, "g")
	assert.NoError(t, err)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := map[string]any{"a": "b"}
	require.NoError(t, s.Set(ctx, "n", "k", in))
	in["a"] = "changed"

	v, err := s.Get(ctx, "n", "k")
	require.NoError(t, err)
	assert.Equal(t, "b", v.(map[string]any)["a"])
}

func TestBadgerStoreInMemory(t *testing.T) {
	s, err := NewBadgerStore(BadgerOptions{InMemory: true}, zap.NewNop())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestBadgerStoreNeedsLocation(t *testing.T) {
	_, err := NewBadgerStore(BadgerOptions{}, zap.NewNop())
	assert.ErrorIs(t, err, rwerrors.ErrBadArguments)

	s, err := NewBadgerStore(BadgerOptions{InMemory: true}, zap.NewNop())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "n", "k")
	assert.ErrorIs(t, err, rwerrors.ErrInvalidOperation)
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	_, err := NewStore(StoreConfig{Type: "etcd"}, nil)
	assert.ErrorIs(t, err, rwerrors.ErrUnsupported)

	_, err = NewStore(StoreConfig{Type: TypeRedis}, nil)
	assert.ErrorIs(t, err, rwerrors.ErrBadArguments)

	_, err = NewStore(StoreConfig{Type: TypeAzBlob, Options: map[string]any{"container": "c"}}, nil)
	assert.ErrorIs(t, err, rwerrors.ErrBadArguments)
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("DefaultEndpointsProtocol=http;AccountName=dev;AccountKey=a2V5==;BlobEndpoint=http://127.0.0.1:10000/dev;")
	assert.Equal(t, "dev", params["AccountName"])
	assert.Equal(t, "a2V5==", params["AccountKey"])
	assert.Equal(t, "http://127.0.0.1:10000/dev", params["BlobEndpoint"])
}

func TestContextNestedKeys(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager("", nil, nil)
	require.NoError(t, err)

	flow := m.NewContext("f1", m.Global())
	node := m.NewContext("n1:f1", flow)

	require.NoError(t, node.Set(ctx, "", "stats.hits[1]", 5.0))
	v, ok, err := node.Get(ctx, "", "stats.hits[1]")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	v, ok, err = node.Get(ctx, "", "stats")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"hits": []any{nil, 5.0}}, v)

	require.NoError(t, node.Set(ctx, "", "stats.hits", nil))
	v, _, _ = node.Get(ctx, "", "stats")
	assert.Equal(t, map[string]any{}, v)

	_, ok, err = node.Get(ctx, "", "nothing.here")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, flow.Set(ctx, "", "$parent.shared", "g"))
	v, ok, err = m.Global().Get(ctx, "", "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g", v)

	v, ok, _ = flow.Get(ctx, "default", "$parent.shared")
	assert.True(t, ok)
	assert.Equal(t, "g", v)

	_, _, err = node.Get(ctx, "file", "x")
	assert.True(t, rwerrors.IsNotFound(err))
}
