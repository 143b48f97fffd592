package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/wehubfusion/redwire/pkg/nodes/all"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Load and build a flows file without running it",
		Flags:   []cli.Flag{newFlowsFlag(), newVerboseFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, err := newLogger(cmd.Bool("verbose"))
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			reg, err := all.NewRegistry()
			if err != nil {
				return err
			}
			engine, err := runtime.NewEngineFromFile(reg, cmd.String("flows"), runtime.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("invalid flows file: %w", err)
			}

			nodes := 0
			for _, f := range engine.Flows() {
				nodes += len(f.Nodes())
			}
			fmt.Fprintf(cmd.Root().Writer, "%s: %d flows, %d nodes, %d global nodes\n",
				cmd.String("flows"), len(engine.Flows()), nodes, len(engine.GlobalNodes()))
			return nil
		},
	}
}
