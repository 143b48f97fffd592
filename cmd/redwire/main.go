// Command redwire runs Node-RED flows files.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "redwire",
		EnableShellCompletion: true,
		Usage:                 "Run Node-RED compatible flows",
		Commands: []*cli.Command{
			NewRunCommand(),
			NewValidateCommand(),
			NewTypesCommand(),
		},
	}
}

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
