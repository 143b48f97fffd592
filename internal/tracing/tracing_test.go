package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "endpoint with scheme", mutate: func(c *Config) { c.OTLPEndpoint = "http://collector:4318" }, wantErr: true},
		{name: "ratio above one", mutate: func(c *Config) { c.SampleRatio = 1.5 }, wantErr: true},
		{name: "ratio zero", mutate: func(c *Config) { c.SampleRatio = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("redwire")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResourceAttributes(t *testing.T) {
	cfg := DefaultConfig("redwire")
	attrs := attribute.NewSet(cfg.ResourceAttributes()...)
	_, ok := attrs.Value(AttrFlowsFile)
	assert.False(t, ok)

	cfg.FlowsFile = "flows.json"
	cfg.ContextStore = "badger"
	attrs = attribute.NewSet(cfg.ResourceAttributes()...)

	v, ok := attrs.Value(AttrFlowsFile)
	require.True(t, ok)
	assert.Equal(t, "flows.json", v.AsString())
	v, ok = attrs.Value(AttrContextStore)
	require.True(t, ok)
	assert.Equal(t, "badger", v.AsString())
	v, ok = attrs.Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "redwire", v.AsString())
}

func TestSamplerHonoursParent(t *testing.T) {
	cfg := DefaultConfig("redwire")
	cfg.SampleRatio = 0

	traceID := oteltrace.TraceID{1}
	root := cfg.Sampler().ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       traceID,
		Name:          "node.uow",
	})
	assert.Equal(t, sdktrace.Drop, root.Decision)

	parent := oteltrace.ContextWithSpanContext(context.Background(), oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     oteltrace.SpanID{1},
		TraceFlags: oteltrace.FlagsSampled,
		Remote:     true,
	}))
	child := cfg.Sampler().ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parent,
		TraceID:       traceID,
		Name:          "node.uow",
	})
	assert.Equal(t, sdktrace.RecordAndSample, child.Decision)
}

func TestSetupTracingRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig("")
	_, err := SetupTracing(context.Background(), cfg, nil)
	assert.Error(t, err)
}
