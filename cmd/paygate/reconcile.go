package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vitwit/paygate"
)

func newReconcileCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay grants that failed after payment was received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				cfg.Wipe()
				return errors.New("reconcile reads the queue from Redis; set PAYGATE_REDIS_URL")
			}
			p, err := paygate.New(cmd.Context(), cfg, paygate.WithLogger(log))
			cfg.Wipe()
			if err != nil {
				return err
			}
			defer p.Close()

			n, err := p.Coordinator().Reconcile(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return g.write(map[string]int{"replayed": n}, func() error {
				return writePlain("replayed %d grant(s)\n", n)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of queued grants to replay")
	return cmd
}
