// Package observability sets up OpenTelemetry tracing.
package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName names the tracer used across the module.
const TracerName = "github.com/rgmining/fraudeagle"

// Tracing owns the tracer provider for the process.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Setup returns a Tracing that writes spans as JSON to w when enabled, or a
// no-op tracer otherwise. An enabled provider is also installed globally so
// otelhttp picks it up.
func Setup(enabled bool, w io.Writer) (*Tracing, error) {
	if !enabled {
		return &Tracing{tracer: noop.NewTracerProvider().Tracer(TracerName)}, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	return &Tracing{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

// Tracer returns the tracer.
func (t *Tracing) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	return t.tracer
}

// Shutdown flushes and stops the provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// GraphAttributes describes a graph's size on a span.
func GraphAttributes(reviewers, products, reviews int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("graph.reviewers", reviewers),
		attribute.Int("graph.products", products),
		attribute.Int("graph.reviews", reviews),
	}
}
