package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mergectl",
		Short: "Merge source files into build assets",
		Long: `mergectl concatenates source files matched by glob patterns into
output files, applies per-output transforms and optionally renames the
outputs after a hash of their content.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildCmd(),
		runCmd(),
		validateCmd(),
		configSchemaCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "mergectl", version)
		},
	}
}
