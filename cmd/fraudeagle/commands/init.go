package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rgmining/fraudeagle/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool
	var datasetPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Example: `  fraudeagle init
  fraudeagle init --dataset reviews.jsonl --config analysis.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfgFile); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
			}
			cfg := config.Defaults()
			cfg.Dataset.Path = datasetPath
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(cfgFile); err != nil {
				return err
			}
			printf(cmd, "Wrote %s\n", cfgFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().StringVar(&datasetPath, "dataset", "reviews.csv", "dataset path to record in the config")
	return cmd
}
