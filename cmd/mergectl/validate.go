package main

import (
	"fmt"

	"github.com/spf13/cobra"

	ext_config "github.com/open-policy-agent/merge-into-file/config"
	"github.com/open-policy-agent/merge-into-file/internal/config"
	"github.com/open-policy-agent/merge-into-file/internal/transform"
)

func validateCmd() *cobra.Command {
	var (
		configFiles   []string
		conflictError bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the merged configuration files against the configuration schema,
check the chunk references for cycles and compile all transforms.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bs, err := config.MergeFiles(configFiles, conflictError)
			if err != nil {
				return err
			}

			root, err := config.Parse(bs)
			if err != nil {
				return err
			}

			merges, err := root.TopologicalSortedMerges()
			if err != nil {
				return err
			}

			for _, m := range merges {
				if _, err := transform.ForMerge(cmd.Context(), m); err != nil {
					return fmt.Errorf("merge %q: %w", m.Name, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %d merge(s)\n", len(merges))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&configFiles, "config", "c", []string{"mergectl.yaml"}, "configuration files or directories, merged in order")
	cmd.Flags().BoolVar(&conflictError, "conflict-error", false, "fail if the configuration files set a value differently")

	return cmd
}

func configSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON schema of the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(ext_config.Schema())
			return err
		},
	}
}
