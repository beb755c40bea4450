// Package analysis drives belief propagation to convergence and collects the
// per-node results of a run.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rgmining/fraudeagle/internal/fraudeagle"
	"github.com/rgmining/fraudeagle/internal/metrics"
	"github.com/rgmining/fraudeagle/internal/observability"
)

// Defaults used when the corresponding Runner field is zero.
const (
	DefaultThreshold     = 1e-7
	DefaultMaxIterations = 10000
)

// ReviewerScore is a reviewer's anomalous score after a run.
type ReviewerScore struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Reviews int     `json:"reviews"`
}

// ProductSummary is a product's trust-weighted rating after a run.
type ProductSummary struct {
	Name    string  `json:"name"`
	Summary float64 `json:"summary"`
	Reviews int     `json:"reviews"`
}

// Result is the outcome of one run.
type Result struct {
	ID         string           `json:"id"`
	Dataset    string           `json:"dataset,omitempty"`
	Epsilon    float64          `json:"epsilon"`
	Iterations int              `json:"iterations"`
	Delta      float64          `json:"delta"`
	Converged  bool             `json:"converged"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
	Reviewers  []ReviewerScore  `json:"reviewers,omitempty"`
	Products   []ProductSummary `json:"products,omitempty"`
}

// Runner repeats Update until the largest message change drops below
// Threshold or MaxIterations rounds have run.
type Runner struct {
	Threshold     float64
	MaxIterations int
	Logger        *slog.Logger
	Metrics       *metrics.Collector
	Tracer        trace.Tracer
}

// Run analyzes g. Cancellation is checked between rounds; a canceled run
// returns the context error and no result.
func (r *Runner) Run(ctx context.Context, g *fraudeagle.ReviewGraph) (*Result, error) {
	threshold, maxIter := r.Threshold, r.MaxIterations
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if maxIter == 0 {
		maxIter = DefaultMaxIterations
	}
	if threshold < 0 || maxIter < 0 {
		return nil, fmt.Errorf("invalid runner limits: threshold=%v max_iterations=%d", threshold, maxIter)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracer := r.Tracer
	if tracer == nil {
		tracer = (*observability.Tracing)(nil).Tracer()
	}

	nr, np, ne := g.Size()
	ctx, span := tracer.Start(ctx, "analysis.run",
		trace.WithAttributes(observability.GraphAttributes(nr, np, ne)...),
		trace.WithAttributes(attribute.Float64("analysis.epsilon", g.Epsilon())))
	defer span.End()

	res := &Result{
		ID:        uuid.NewString(),
		Epsilon:   g.Epsilon(),
		StartedAt: time.Now().UTC(),
	}
	logger.Info("analysis started", "run", res.ID, "reviewers", nr, "products", np, "reviews", ne, "epsilon", g.Epsilon())

	for res.Iterations < maxIter {
		if err := ctx.Err(); err != nil {
			observability.RecordError(span, err)
			return nil, fmt.Errorf("run %s canceled after %d rounds: %w", res.ID, res.Iterations, err)
		}
		res.Delta = g.Update()
		res.Iterations++
		r.Metrics.ObserveRound(res.Delta)
		span.AddEvent("round", trace.WithAttributes(
			attribute.Int("round", res.Iterations),
			attribute.Float64("delta", res.Delta)))
		logger.Debug("round finished", "run", res.ID, "round", res.Iterations, "delta", res.Delta)
		if res.Delta < threshold {
			res.Converged = true
			break
		}
	}
	res.Duration = time.Since(res.StartedAt)

	if err := collect(g, res); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	r.Metrics.ObserveRun(res.Converged, ne, res.Duration)
	span.SetAttributes(
		attribute.Int("analysis.iterations", res.Iterations),
		attribute.Bool("analysis.converged", res.Converged))

	level := slog.LevelInfo
	if !res.Converged {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "analysis finished", "run", res.ID, "iterations", res.Iterations,
		"delta", res.Delta, "converged", res.Converged, "duration", res.Duration)
	return res, nil
}

func collect(g *fraudeagle.ReviewGraph, res *Result) error {
	for _, rv := range g.Reviewers() {
		res.Reviewers = append(res.Reviewers, ReviewerScore{
			Name:    rv.Name(),
			Score:   rv.AnomalousScore(),
			Reviews: len(g.ProductsOf(rv)),
		})
	}
	for _, p := range g.Products() {
		reviews := len(g.ReviewersOf(p))
		if reviews == 0 {
			continue
		}
		s, err := p.Summary()
		if err != nil && !errors.Is(err, fraudeagle.ErrNoReview) {
			return fmt.Errorf("summarizing %s: %w", p, err)
		}
		res.Products = append(res.Products, ProductSummary{Name: p.Name(), Summary: s, Reviews: reviews})
	}
	return nil
}
