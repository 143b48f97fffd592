// Package tracing installs the OpenTelemetry tracer provider of a redwire
// process. Node units of work become spans of the "redwire/runtime" tracer.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Resource attribute keys describing what a redwire process runs.
const (
	AttrFlowsFile    = attribute.Key("redwire.flows.file")
	AttrContextStore = attribute.Key("redwire.context.store")
)

// Config holds the exporter and resource settings.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is host:port only, the exporter adds the path.
	OTLPEndpoint string  `validate:"required,hostname_port"`
	SampleRatio  float64 `validate:"gte=0,lte=1"`

	FlowsFile    string
	ContextStore string
}

// DefaultConfig returns a configuration exporting every trace to a local
// collector.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "127.0.0.1:4318",
		SampleRatio:    1.0,
	}
}

var configValidator = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid tracing config: %w", err)
	}
	return nil
}

// ResourceAttributes lists the attributes describing the process.
func (c Config) ResourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.DeploymentEnvironment(c.Environment),
	}
	if c.FlowsFile != "" {
		attrs = append(attrs, AttrFlowsFile.String(c.FlowsFile))
	}
	if c.ContextStore != "" {
		attrs = append(attrs, AttrContextStore.String(c.ContextStore))
	}
	return attrs
}

// Sampler follows the sampling decision of a remote parent and samples root
// spans by SampleRatio.
func (c Config) Sampler() trace.Sampler {
	return trace.ParentBased(trace.TraceIDRatioBased(c.SampleRatio))
}

// SetupTracing installs a global tracer provider exporting over OTLP/HTTP.
// The returned function flushes and shuts the provider down.
func SetupTracing(ctx context.Context, config Config, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Setting up tracing",
		zap.String("service_name", config.ServiceName),
		zap.String("otlp_endpoint", config.OTLPEndpoint),
		zap.String("environment", config.Environment),
		zap.Float64("sample_ratio", config.SampleRatio))

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(config.ResourceAttributes()...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(config.Sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// ShutdownTracing flushes pending spans, waiting at most ten seconds.
func ShutdownTracing(shutdown func(context.Context) error, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown tracing", zap.Error(err))
		return err
	}
	logger.Info("Tracing shut down")
	return nil
}
