package main

import (
	"github.com/boddenberg/fenix-agent-go/internal/config"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:          "fenix",
		Short:        "Agente Fenix: Telegram sales-order and returns bot",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env is normal outside local development.
			_ = config.LoadDotEnv(envFile)
		},
		RunE: func(c *cobra.Command, _ []string) error {
			return runServe(c.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLocateCmd())
	return cmd
}
