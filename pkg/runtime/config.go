package runtime

import (
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"

	"github.com/wehubfusion/redwire/pkg/contextstore"
)

// EngineConfig configures an Engine. Zero fields are filled from
// DefaultEngineConfig when the engine is created.
type EngineConfig struct {
	// NodeMsgQueueCapacity is the buffer size of every node inbound channel
	// and subflow output port.
	NodeMsgQueueCapacity int `validate:"gte=1,lte=65536"`

	// FinalMsgQueueCapacity is the buffer size of the test-once delivery channel.
	FinalMsgQueueCapacity int `validate:"gte=1"`

	// LinkCallTimeout is used by link call nodes that do not set a timeout.
	LinkCallTimeout time.Duration `validate:"gt=0"`

	// FunctionTimeout bounds one function node script run when the node sets none.
	FunctionTimeout time.Duration `validate:"gt=0"`

	// TracerName is the OpenTelemetry instrumentation name of node spans.
	TracerName string `validate:"required"`

	// DefaultContextStore names the store used by plain context keys. Empty
	// selects "default", else the first configured store by name.
	DefaultContextStore string

	// ContextStores configures the named context stores. Empty means one
	// memory store.
	ContextStores map[string]contextstore.StoreConfig `validate:"dive"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		NodeMsgQueueCapacity:  16,
		FinalMsgQueueCapacity: 64,
		LinkCallTimeout:       30 * time.Second,
		FunctionTimeout:       5 * time.Second,
		TracerName:            "redwire/runtime",
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c EngineConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}

// withDefaults fills zero fields from DefaultEngineConfig and validates.
func (c EngineConfig) withDefaults() (EngineConfig, error) {
	if err := mergo.Merge(&c, DefaultEngineConfig()); err != nil {
		return c, fmt.Errorf("failed to apply engine config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c EngineConfig) WithNodeMsgQueueCapacity(n int) EngineConfig {
	c.NodeMsgQueueCapacity = n
	return c
}

func (c EngineConfig) WithFinalMsgQueueCapacity(n int) EngineConfig {
	c.FinalMsgQueueCapacity = n
	return c
}

func (c EngineConfig) WithLinkCallTimeout(d time.Duration) EngineConfig {
	c.LinkCallTimeout = d
	return c
}

func (c EngineConfig) WithFunctionTimeout(d time.Duration) EngineConfig {
	c.FunctionTimeout = d
	return c
}

func (c EngineConfig) WithContextStore(name string, store contextstore.StoreConfig) EngineConfig {
	stores := make(map[string]contextstore.StoreConfig, len(c.ContextStores)+1)
	for k, v := range c.ContextStores {
		stores[k] = v
	}
	stores[name] = store
	c.ContextStores = stores
	return c
}

// FlowArgs carries the per-flow build settings derived from EngineConfig.
type FlowArgs struct {
	NodeMsgQueueCapacity int
}

func (c EngineConfig) FlowArgs() FlowArgs {
	return FlowArgs{NodeMsgQueueCapacity: c.NodeMsgQueueCapacity}
}
