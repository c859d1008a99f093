package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitwit/paygate"
)

func newServeCmd(g *globals) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the content access gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := paygate.New(ctx, cfg, paygate.WithLogger(log))
			cfg.Wipe()
			if err != nil {
				return err
			}
			defer p.Close()

			return p.Run(ctx, grace)
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 30*time.Second, "how long to drain requests on shutdown")
	return cmd
}

