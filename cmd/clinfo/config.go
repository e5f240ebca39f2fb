package main

import (
	"fmt"
	"os"

	"github.com/fxnlabs/tinycl/fixtures"
	"github.com/urfave/cli/v2"
)

func configCommands() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the tinycl config file",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write the default config file",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: func(c *cli.Context) error {
					path := "config.yaml"
					if c.NArg() > 0 {
						path = c.Args().First()
					}
					if _, err := os.Stat(path); err == nil && !c.Bool("force") {
						return fmt.Errorf("%s already exists; use --force to overwrite", path)
					}
					if err := os.WriteFile(path, fixtures.ConfigTemplate, 0o644); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
					return nil
				},
			},
		},
	}
}
