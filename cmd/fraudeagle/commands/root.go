package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rgmining/fraudeagle/internal/config"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "fraudeagle",
		Short:         "Detect fraudulent reviewers with loopy belief propagation",
		Long:          "fraudeagle scores reviewers in a reviewer/product rating graph with the Fraud Eagle algorithm and summarizes products by trust-weighted ratings.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "fraudeagle.yaml", "config file path")

	root.AddCommand(
		newAnalyzeCmd(),
		newRunsCmd(),
		newShowCmd(),
		newServeCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads cfgFile, falling back to defaults when it does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// outputFile returns the command's stdout as a file when it is one, for
// terminal detection.
func outputFile(cmd *cobra.Command) *os.File {
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		return f
	}
	return nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...) //nolint:errcheck // CLI output
}
