package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the units it defines",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logger.Sync()

			// Load already validated the file.
			logger.Info("configuration valid",
				zap.String("listen", cfg.Server.Listen),
				zap.Int("queue", cfg.Gate.Queue),
				zap.Int("units", len(cfg.Units)),
			)
			for _, u := range cfg.Units {
				logger.Info("unit",
					zap.String("name", u.Name),
					zap.String("remote", u.Remote),
					zap.Duration("retry", u.RetryInterval()),
				)
			}
			return nil
		},
	}
}
