package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-policy-agent/merge-into-file/internal/output"
	"github.com/open-policy-agent/merge-into-file/internal/service"
)

func buildCmd() *cobra.Command {
	var (
		params     commonParams
		outputDir  string
		check      bool
		noProgress bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build all merges once",
		Long: `Build every configured merge once and write the results to the output
directory. Files are uploaded to the configured object storage, if any.

With --check nothing is written: the command fails and prints a diff if the
output directory is not up to date.

Examples:
  mergectl build
  mergectl build -c base.yaml -c prod.yaml --output public
  mergectl build --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := service.New().
				WithConfigFiles(params.configFiles).
				WithBaseDir(params.baseDir).
				WithOutputDir(outputDir).
				WithLogger(params.logger())
			if !noProgress {
				svc = svc.WithProgress(os.Stderr)
			}

			if err := svc.Build(cmd.Context()); err != nil {
				return err
			}

			if check {
				err := svc.Check(cmd.OutOrStdout())
				if errors.Is(err, output.ErrOutOfDate) {
					return fmt.Errorf("%w in %s", err, svc.OutputDir())
				}
				return err
			}

			if err := svc.Write(cmd.Context()); err != nil {
				return err
			}

			if quiet {
				return nil
			}
			return svc.Output().Table(cmd.OutOrStdout())
		},
	}

	addCommonFlags(cmd.Flags(), &params)
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default from configuration)")
	cmd.Flags().BoolVar(&check, "check", false, "verify the output directory is up to date instead of writing it")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the table of outputs")

	return cmd
}
