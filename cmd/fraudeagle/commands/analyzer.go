package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rgmining/fraudeagle/internal/analysis"
	"github.com/rgmining/fraudeagle/internal/config"
	"github.com/rgmining/fraudeagle/internal/dataset"
	"github.com/rgmining/fraudeagle/internal/fraudeagle"
	"github.com/rgmining/fraudeagle/internal/metrics"
	"github.com/rgmining/fraudeagle/internal/observability"
	"github.com/rgmining/fraudeagle/internal/publish"
	"github.com/rgmining/fraudeagle/internal/report"
	"github.com/rgmining/fraudeagle/internal/store"
)

// analyzer runs the load, analyze, report, persist and publish pipeline.
// store, publisher and reporter are optional.
type analyzer struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Collector
	tracing   *observability.Tracing
	store     *store.Store
	publisher *publish.Publisher
	reporter  *report.Reporter
	top       int
}

// openAnalyzer wires the pipeline from cfg. The returned close function
// releases everything that was opened.
func openAnalyzer(ctx context.Context, cfg *config.Config, logger *slog.Logger, persist, publishResults bool) (*analyzer, func(), error) {
	a := &analyzer{cfg: cfg, logger: logger, metrics: metrics.New()}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	tr, err := observability.Setup(cfg.Tracing.Enabled, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	a.tracing = tr
	closers = append(closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tr.Shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	})

	if persist {
		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		a.store = st
		closers = append(closers, func() { _ = st.Close() })
	}

	if publishResults && cfg.Publish.RedisAddr != "" {
		client, err := publish.Dial(ctx, cfg.Publish.RedisAddr)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ttl := time.Duration(cfg.Publish.TTLHours) * time.Hour
		a.publisher = publish.New(client, cfg.Publish.KeyPrefix, ttl, logger)
		closers = append(closers, func() { _ = client.Close() })
	}

	return a, closeAll, nil
}

// run analyzes the configured dataset once.
func (a *analyzer) run(ctx context.Context) (*analysis.Result, error) {
	format, err := a.cfg.Dataset.ResolvedFormat()
	if err != nil {
		return nil, err
	}
	ds, err := dataset.Load(ctx, a.cfg.Dataset.Path, dataset.Options{
		Format:   format,
		MaxBytes: a.cfg.Dataset.MaxBytes,
		MinScore: a.cfg.Dataset.MinScore,
		MaxScore: a.cfg.Dataset.MaxScore,
	})
	if err != nil {
		return nil, err
	}

	g, err := fraudeagle.New(a.cfg.Analysis.Epsilon,
		fraudeagle.WithLogger(a.logger),
		fraudeagle.WithWorkers(a.cfg.Analysis.Workers))
	if err != nil {
		return nil, err
	}
	if err := ds.Build(g); err != nil {
		return nil, err
	}

	runner := &analysis.Runner{
		Threshold:     a.cfg.Analysis.Threshold,
		MaxIterations: a.cfg.Analysis.MaxIterations,
		Logger:        a.logger,
		Metrics:       a.metrics,
		Tracer:        a.tracing.Tracer(),
	}
	res, err := runner.Run(ctx, g)
	if err != nil {
		return nil, err
	}
	res.Dataset = a.cfg.Dataset.Path

	if a.reporter != nil {
		if err := a.reporter.Result(res, a.top); err != nil {
			return nil, fmt.Errorf("writing report: %w", err)
		}
	}
	if a.store != nil {
		if err := a.store.SaveRun(ctx, res); err != nil {
			return nil, err
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}
