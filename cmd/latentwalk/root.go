package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var serverFlag string
	var apiKeyFlag string

	ctx := newCommandContext(&configFlag, &serverFlag, &apiKeyFlag)

	rootCmd := &cobra.Command{
		Use:           "latentwalk",
		Short:         "Generate latent walk videos through a latentwalk API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "API base URL (default from config, or $LATENTWALK_SERVER)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "API key sent as X-API-Key (default from config)")

	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newLogsCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newDownloadCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
