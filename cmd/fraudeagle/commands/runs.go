package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rgmining/fraudeagle/internal/report"
	"github.com/rgmining/fraudeagle/internal/store"
)

// openStore opens the results database with a quiet logger.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("opening results db: %w", err)
	}
	return st, nil
}

func newRunsCmd() *cobra.Command {
	var datasetPath, since, output string
	var converged bool
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored analysis runs",
		Example: `  fraudeagle runs
  fraudeagle runs --converged --since 24h
  fraudeagle runs --dataset reviews.csv -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := report.ParseFormat(output, outputFile(cmd))
			if err != nil {
				return err
			}

			opts := store.QueryOpts{Dataset: datasetPath, OnlyConverged: converged, Limit: limit}
			if since != "" {
				dur, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", since, err)
				}
				opts.Since = time.Now().Add(-dur)
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // best-effort cleanup

			runs, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return report.New(cmd.OutOrStdout(), outFormat, 0).Runs(runs)
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", "", "filter by dataset path")
	cmd.Flags().BoolVar(&converged, "converged", false, "show only converged runs")
	cmd.Flags().StringVar(&since, "since", "", "show runs since duration (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max runs to return")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output format: table or json")
	return cmd
}

func newShowCmd() *cobra.Command {
	var output string
	var limit int
	var products bool
	var cutoff float64

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the most anomalous reviewers of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := report.ParseFormat(output, outputFile(cmd))
			if err != nil {
				return err
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // best-effort cleanup

			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			scores, err := st.TopReviewers(cmd.Context(), run.ID, limit)
			if err != nil {
				return err
			}

			rep := report.New(cmd.OutOrStdout(), outFormat, cutoff)
			if outFormat == report.FormatTable {
				printf(cmd, "run %s  dataset=%s  iterations=%d  converged=%t\n\n",
					run.ID, run.Dataset, run.Iterations, run.Converged)
			}
			if err := rep.Reviewers(scores); err != nil {
				return err
			}
			if !products {
				return nil
			}
			sums, err := st.ProductSummaries(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if outFormat == report.FormatTable {
				printf(cmd, "\n")
			}
			return rep.Products(sums)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "reviewers to show (0 = all)")
	cmd.Flags().BoolVar(&products, "products", false, "also show product summaries")
	cmd.Flags().Float64Var(&cutoff, "cutoff", report.DefaultCutoff, "highlight reviewers whose score exceeds this")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output format: table or json")
	return cmd
}
