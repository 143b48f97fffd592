package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/pkg/adminapi"
	"github.com/wehubfusion/redwire/pkg/nodes/all"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

func NewRunCommand() *cli.Command {
	flags := []cli.Flag{
		newFlowsFlag(),
		newVerboseFlag(),
		&cli.StringFlag{
			Name:    "otlp-endpoint",
			Usage:   "OTLP/HTTP collector host:port, tracing is off when empty",
			Sources: cli.EnvVars("REDWIRE_OTLP_ENDPOINT"),
		},
		&cli.FloatFlag{
			Name:    "otlp-sample-ratio",
			Usage:   "Fraction of root traces to sample",
			Value:   1.0,
			Sources: cli.EnvVars("REDWIRE_OTLP_SAMPLE_RATIO"),
		},
		&cli.StringFlag{
			Name:    "sentry-dsn",
			Usage:   "Sentry DSN for unhandled node errors",
			Sources: cli.EnvVars("REDWIRE_SENTRY_DSN"),
		},
		&cli.StringFlag{
			Name:    "http-addr",
			Usage:   "Listen address of the admin API, disabled when empty",
			Sources: cli.EnvVars("REDWIRE_HTTP_ADDR"),
		},
		&cli.DurationFlag{
			Name:    "shutdown-timeout",
			Usage:   "How long to wait for flows to stop",
			Value:   10 * time.Second,
			Sources: cli.EnvVars("REDWIRE_SHUTDOWN_TIMEOUT"),
		},
	}
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run a flows file until interrupted",
		Flags:   append(flags, contextStoreFlags()...),
		Action:  runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	hub, flushSentry, err := setupSentry(cmd.String("sentry-dsn"), logger)
	if err != nil {
		return err
	}
	defer flushSentry()

	cfg, err := engineConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := all.NewRegistry()
	if err != nil {
		return err
	}

	engine, err := runtime.NewEngineFromFile(reg, cmd.String("flows"),
		runtime.WithConfig(cfg),
		runtime.WithLogger(logger),
		runtime.WithSentryHub(hub))
	if err != nil {
		return fmt.Errorf("failed to load flows: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	logger.Info("Flows running",
		zap.String("flows", cmd.String("flows")),
		zap.Int("flow_count", len(engine.Flows())))

	apiErr := make(chan error, 1)
	if addr := cmd.String("http-addr"); addr != "" {
		server := adminapi.NewServer(engine, logger)
		go func() { apiErr <- server.Listen(ctx, addr) }()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-apiErr:
		if err != nil {
			logger.Error("Admin API failed", zap.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cmd.Duration("shutdown-timeout"))
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop engine: %w", err)
	}
	return nil
}
