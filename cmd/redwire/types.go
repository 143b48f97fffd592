package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/wehubfusion/redwire/pkg/nodes/all"
)

func NewTypesCommand() *cli.Command {
	return &cli.Command{
		Name:  "types",
		Usage: "List the built-in node types",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			reg, err := all.NewRegistry()
			if err != nil {
				return err
			}
			for _, typ := range reg.Types() {
				meta, _ := reg.Get(typ)
				fmt.Fprintf(cmd.Root().Writer, "%-16s %s\n", typ, meta.Kind)
			}
			return nil
		},
	}
}
