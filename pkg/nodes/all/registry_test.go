package all

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/redwire/pkg/runtime"
)

func TestNewRegistryHasBuiltins(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	for _, typ := range []string{
		"inject", "debug", "function", "change", "switch", "range", "rbe",
		"link in", "link out", "link call", "catch", "complete",
		"nats in", "nats out", "nats-broker",
		runtime.TypeUnknownFlow, runtime.TypeUnknownGlobal,
	} {
		_, ok := reg.Get(typ)
		assert.True(t, ok, "missing node type %q", typ)
	}
}

func TestRegisterBuiltinsTwiceFails(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, RegisterBuiltins(reg))
}
