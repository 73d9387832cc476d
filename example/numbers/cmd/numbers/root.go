package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "numbers",
		Short:         "Runs a chunk-oriented demo job over a range of integers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Path to a .env file loaded before the configuration")

	cmd.AddCommand(newRunCmd(flags))

	return cmd
}
