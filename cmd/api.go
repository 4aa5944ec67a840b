package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/api"
	"github.com/replydesk/internal/jobqueue"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the ReplyDesk API server and job workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the configured API port",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := context.Background()

			rt, err := buildRuntime(ctx, c.String("config"))
			if err != nil {
				return err
			}
			defer rt.Close()

			queue, err := jobqueue.NewJobQueue(rt.pool, rt.engine)
			if err != nil {
				return err
			}
			if err := queue.Start(ctx); err != nil {
				return fmt.Errorf("failed to start job queue: %w", err)
			}
			defer queue.Stop(ctx)

			port := c.Int("port")
			if port == 0 {
				port = rt.cfg.Server.Port
			}
			fmt.Printf("Starting ReplyDesk API server on port %d...\n", port)

			server := api.NewServer(port, rt.engine, queue, rt.profiles, rt.stats)
			return server.Start()
		},
	}
}
