package main

import (
	"github.com/spf13/cobra"

	"github.com/vitwit/paygate"
	"github.com/vitwit/paygate/config"
	"github.com/vitwit/paygate/logger"
)

type globals struct {
	jsonOutput bool
	envFiles   []string
}

// load reads .env files and the environment. Commands that only work on
// local files never call it.
func (g *globals) load() (*config.Config, logger.Logger, error) {
	if err := config.LoadDotEnv(g.envFiles...); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg), nil
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "paygate",
		Short:         "Sell encrypted content behind x402 payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = paygate.Version
	cmd.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	cmd.AddCommand(
		newServeCmd(g),
		newKeygenCmd(g),
		newEncryptCmd(),
		newDecryptCmd(),
		newPublishCmd(g),
		newSetPriceCmd(g),
		newDeactivateCmd(g),
		newListCmd(g),
		newPayCmd(g),
		newReconcileCmd(g),
	)
	return cmd
}

func newLogger(cfg *config.Config) logger.Logger {
	if cfg.Environment == "development" {
		return logger.NewDevelopmentLogger(cfg.LogLevel)
	}
	return logger.NewZapLogger(cfg.LogLevel)
}
