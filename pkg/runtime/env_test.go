package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/redwire/pkg/flowsjson"
)

func TestEnvStoreChain(t *testing.T) {
	root := NewEnvStore(nil)
	root.Set("A", "root")
	root.Set("B", "root")
	child := NewEnvStore(root)
	child.Set("B", "child")

	v, ok := child.Get("A")
	require.True(t, ok)
	assert.Equal(t, "root", v)
	v, _ = child.Get("B")
	assert.Equal(t, "child", v)
	_, ok = child.Get("C")
	assert.False(t, ok)
	assert.Same(t, root, child.Parent())
}

func TestProcessEnvStore(t *testing.T) {
	t.Setenv("REDWIRE_TEST_VAR", "from-process")
	s := NewEnvStore(NewProcessEnvStore())
	v, ok := s.Get("REDWIRE_TEST_VAR")
	require.True(t, ok)
	assert.Equal(t, "from-process", v)
}

func TestEnvStoreLoadEntries(t *testing.T) {
	parent := NewEnvStore(nil)
	parent.Set("HOST", "example.org")
	s := NewEnvStore(parent)

	err := s.LoadEntries([]flowsjson.EnvEntry{
		{Name: "PORT", Value: "8080", Type: "num"},
		{Name: "URL", Value: "http://${HOST}:${PORT}/", Type: "str"},
		{Name: "DEBUG", Value: "true", Type: "bool"},
		{Name: "OBJ", Value: `{"a": [1, 2]}`, Type: "json"},
		{Name: "COPY", Value: "HOST", Type: "env"},
		{Name: "", Value: "ignored"},
	})
	require.NoError(t, err)

	port, _ := s.Get("PORT")
	assert.Equal(t, float64(8080), port)
	url, _ := s.Get("URL")
	assert.Equal(t, "http://example.org:8080/", url)
	debug, _ := s.Get("DEBUG")
	assert.Equal(t, true, debug)
	obj, _ := s.Get("OBJ")
	assert.Equal(t, map[string]any{"a": []any{float64(1), float64(2)}}, obj)
	cp, _ := s.Get("COPY")
	assert.Equal(t, "example.org", cp)
}

func TestEnvStoreLoadEntriesErrors(t *testing.T) {
	s := NewEnvStore(nil)
	assert.Error(t, s.LoadEntries([]flowsjson.EnvEntry{{Name: "N", Value: "abc", Type: "num"}}))
	assert.Error(t, s.LoadEntries([]flowsjson.EnvEntry{{Name: "J", Value: "{", Type: "json"}}))
	assert.Error(t, s.LoadEntries([]flowsjson.EnvEntry{{Name: "X", Value: "1", Type: "jsonata"}}))
}

func TestEnvStoreExpand(t *testing.T) {
	s := NewEnvStore(nil)
	s.Set("NAME", "world")
	s.Set("NUM", float64(3))
	assert.Equal(t, "hello world", s.Expand("hello ${NAME}"))
	assert.Equal(t, "n=3", s.Expand("n=${ NUM }"))
	assert.Equal(t, "missing: ", s.Expand("missing: ${NOPE}"))
	assert.Equal(t, "plain", s.Expand("plain"))
}
