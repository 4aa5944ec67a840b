package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

// SweepCommand returns the CLI command for a one-shot expiry sweep. The
// API server runs the same sweep periodically; this exists for cron-style
// deployments and operational cleanups.
func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Expire pending threads past their approval deadline",
		Action: func(c *cli.Context) error {
			ctx := context.Background()

			rt, err := buildRuntime(ctx, c.String("config"))
			if err != nil {
				return err
			}
			defer rt.Close()

			expired, err := rt.engine.SweepExpired(ctx, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Expired %d thread(s)\n", expired)
			return nil
		},
	}
}
