package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wehubfusion/redwire/internal/tracing"
	"github.com/wehubfusion/redwire/pkg/contextstore"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

func newFlowsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "flows",
		Aliases:  []string{"f"},
		Usage:    "Path to the flows JSON file",
		Required: true,
		Sources:  cli.EnvVars("REDWIRE_FLOWS"),
	}
}

func newVerboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging",
		Sources: cli.EnvVars("REDWIRE_VERBOSE"),
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// contextStoreFlags select the store behind plain context keys.
func contextStoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "context-store",
			Usage:   "Default context store (memory, badger, redis, azblob)",
			Value:   contextstore.TypeMemory,
			Sources: cli.EnvVars("REDWIRE_CONTEXT_STORE"),
		},
		&cli.StringFlag{
			Name:    "badger-dir",
			Usage:   "Directory of the badger context store",
			Value:   "./.redwire/context",
			Sources: cli.EnvVars("REDWIRE_BADGER_DIR"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Address of the redis context store",
			Value:   "localhost:6379",
			Sources: cli.EnvVars("REDWIRE_REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "azblob-connection",
			Usage:   "Azure storage connection string of the azblob context store",
			Sources: cli.EnvVars("REDWIRE_AZBLOB_CONNECTION"),
		},
		&cli.StringFlag{
			Name:    "azblob-container",
			Usage:   "Container of the azblob context store",
			Value:   "redwire-context",
			Sources: cli.EnvVars("REDWIRE_AZBLOB_CONTAINER"),
		},
	}
}

// engineConfig builds the engine configuration from the flags. The memory
// store is always available as "memory" next to the selected default.
func engineConfig(cmd *cli.Command) (runtime.EngineConfig, error) {
	cfg := runtime.DefaultEngineConfig().
		WithContextStore("memory", contextstore.StoreConfig{Type: contextstore.TypeMemory})

	var store contextstore.StoreConfig
	switch kind := cmd.String("context-store"); kind {
	case contextstore.TypeMemory:
		store = contextstore.StoreConfig{Type: contextstore.TypeMemory}
	case contextstore.TypeBadger:
		store = contextstore.StoreConfig{Type: kind, Options: map[string]any{"dir": cmd.String("badger-dir")}}
	case contextstore.TypeRedis:
		store = contextstore.StoreConfig{Type: kind, Options: map[string]any{"addr": cmd.String("redis-addr")}}
	case contextstore.TypeAzBlob:
		if cmd.String("azblob-connection") == "" {
			return cfg, fmt.Errorf("--azblob-connection is required for the azblob context store")
		}
		store = contextstore.StoreConfig{Type: kind, Options: map[string]any{
			"connectionString": cmd.String("azblob-connection"),
			"container":        cmd.String("azblob-container"),
		}}
	default:
		return cfg, fmt.Errorf("unknown context store %q", kind)
	}
	cfg = cfg.WithContextStore(contextstore.DefaultStoreName, store)
	cfg.DefaultContextStore = contextstore.DefaultStoreName
	return cfg, cfg.Validate()
}

// setupSentry returns a hub when a DSN is configured, else nil.
func setupSentry(dsn string, logger *zap.Logger) (*sentry.Hub, func(), error) {
	if dsn == "" {
		return nil, func() {}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise sentry: %w", err)
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	logger.Info("Sentry error reporting enabled")
	return hub, func() { hub.Flush(2 * time.Second) }, nil
}

// setupTracing installs the OTLP exporter when an endpoint is configured.
func setupTracing(ctx context.Context, cmd *cli.Command, logger *zap.Logger) (func(), error) {
	endpoint := cmd.String("otlp-endpoint")
	if endpoint == "" {
		return func() {}, nil
	}
	cfg := tracing.DefaultConfig("redwire")
	cfg.OTLPEndpoint = endpoint
	cfg.SampleRatio = cmd.Float("otlp-sample-ratio")
	cfg.FlowsFile = cmd.String("flows")
	cfg.ContextStore = cmd.String("context-store")
	shutdown, err := tracing.SetupTracing(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return func() { _ = tracing.ShutdownTracing(shutdown, logger) }, nil
}
