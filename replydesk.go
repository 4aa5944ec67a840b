package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/replydesk/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "replydesk",
		Usage:   "Reply decision and workflow engine for creator partnership inboxes",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "replydesk.toml",
			},
		},
		Commands: []*cli.Command{
			cmd.APICommand(),
			cmd.SweepCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
