// Package metrics exposes Prometheus collectors for analysis runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fraudeagle"

// Collector holds the analysis metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	Updates     prometheus.Counter
	UpdateDelta prometheus.Histogram
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	GraphEdges  prometheus.Gauge
}

// New creates a Collector. Each call has its own registry, so tests can
// create as many as they like.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Belief propagation rounds executed.",
		}),
		UpdateDelta: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_delta",
			Help:      "Largest message change per round.",
			Buckets:   prometheus.ExponentialBuckets(1e-9, 10, 10),
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed analysis runs.",
		}, []string{"converged"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of analysis runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		GraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Reviews in the most recently analyzed graph.",
		}),
	}
	c.registry.MustRegister(
		c.Updates, c.UpdateDelta, c.Runs, c.RunDuration, c.GraphEdges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveRound records one Update call.
func (c *Collector) ObserveRound(delta float64) {
	if c == nil {
		return
	}
	c.Updates.Inc()
	c.UpdateDelta.Observe(delta)
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(converged bool, edges int, d time.Duration) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(strconv.FormatBool(converged)).Inc()
	c.RunDuration.Observe(d.Seconds())
	c.GraphEdges.Set(float64(edges))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
