// Package telemetry initializes OpenTelemetry tracing and metrics providers
// for one pipeline process.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown combines multiple shutdown functions.
type Shutdown func(ctx context.Context) error

// resolvedOptions holds extension points after applying defaults.
type resolvedOptions struct {
	spanExporter sdktrace.SpanExporter
	metricReader sdkmetric.Reader
}

// Option configures Init.
type Option func(*resolvedOptions)

// WithSpanExporter registers a span exporter with the tracer provider. The
// pipeline is embedded as a library and never picks an exporter on its own
// (unlike the teacher's HTTP service, which owned an OTLP/HTTP endpoint
// flag) — the host process injects whatever exporter it already uses.
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(o *resolvedOptions) { o.spanExporter = e }
}

// WithMetricReader registers a metric reader with the meter provider.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *resolvedOptions) { o.metricReader = r }
}

// Init configures the global OpenTelemetry tracer and meter providers,
// resourced with serviceName/version. With no options, both providers run
// with no exporter — spans and metrics are recorded but not shipped
// anywhere, matching the teacher's "endpoint empty -> OTEL disabled"
// no-op behavior without requiring a network endpoint to embed the
// library at all. Returns a shutdown function that must be called during
// graceful shutdown.
func Init(ctx context.Context, serviceName, version string, opts ...Option) (Shutdown, error) {
	var cfg resolvedOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.spanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.spanExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.metricReader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(cfg.metricReader))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
