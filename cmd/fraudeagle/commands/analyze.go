package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rgmining/fraudeagle/internal/report"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		datasetPath, format, output string
		epsilon, threshold, cutoff  float64
		workers, maxIter, top       int
		noStore, noPublish, watch   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [dataset]",
		Short: "Score reviewers and summarize products in a review dataset",
		Example: `  fraudeagle analyze reviews.csv
  fraudeagle analyze reviews.jsonl --epsilon 0.2 --top 50
  fraudeagle analyze --output json --no-store
  fraudeagle analyze reviews.csv --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				cfg.Dataset.Path = args[0]
			}
			if datasetPath != "" {
				cfg.Dataset.Path = datasetPath
			}
			if format != "" {
				cfg.Dataset.Format = format
			}
			if cmd.Flags().Changed("epsilon") {
				cfg.Analysis.Epsilon = epsilon
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Analysis.Threshold = threshold
			}
			if cmd.Flags().Changed("workers") {
				cfg.Analysis.Workers = workers
			}
			if cmd.Flags().Changed("max-iterations") {
				cfg.Analysis.MaxIterations = maxIter
			}
			if cfg.Dataset.Path == "" {
				return fmt.Errorf("no dataset: pass a path or set dataset.path in %s", cfgFile)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			outFormat, err := report.ParseFormat(output, outputFile(cmd))
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, closeAll, err := openAnalyzer(ctx, cfg, logger, !noStore, !noPublish)
			if err != nil {
				return err
			}
			defer closeAll()
			a.reporter = report.New(cmd.OutOrStdout(), outFormat, cutoff)
			a.top = top

			if watch {
				return a.watch(ctx)
			}
			_, err = a.run(ctx)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&datasetPath, "dataset", "", "dataset path (overrides config)")
	f.StringVar(&format, "format", "", "dataset format: csv or jsonl (default: from extension)")
	f.StringVarP(&output, "output", "o", "", "output format: table or json (default: table on a terminal)")
	f.Float64Var(&epsilon, "epsilon", 0.1, "likelihood noise, in (0, 0.5)")
	f.Float64Var(&threshold, "threshold", 1e-7, "stop when the largest message change falls below this")
	f.IntVar(&workers, "workers", 1, "parallel workers per propagation phase")
	f.IntVar(&maxIter, "max-iterations", 10000, "iteration cap")
	f.IntVar(&top, "top", 20, "reviewers to show (0 = all)")
	f.Float64Var(&cutoff, "cutoff", report.DefaultCutoff, "highlight reviewers whose score exceeds this")
	f.BoolVar(&noStore, "no-store", false, "do not save the run to the results database")
	f.BoolVar(&noPublish, "no-publish", false, "do not publish the run to redis")
	f.BoolVar(&watch, "watch", false, "re-run whenever the dataset file changes")

	return cmd
}
