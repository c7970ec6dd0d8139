package otel

import (
	"context"
	"fmt"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/promptc/convert"
)

// ShutdownFunc flushes and stops exporters.
type ShutdownFunc func(context.Context) error

// SetupTracing installs a global tracer provider that exports spans over
// OTLP/HTTP to endpoint, given as "host:port" (plain HTTP) or a full URL.
func SetupTracing(ctx context.Context, endpoint string) (ShutdownFunc, error) {
	var opt otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opt = otlptracehttp.WithEndpointURL(endpoint)
	} else {
		opt = otlptracehttp.WithEndpoint(endpoint)
	}
	opts := []otlptracehttp.Option{opt}
	if !strings.HasPrefix(endpoint, "https://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel: create exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otelapi.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// EventHandler returns a convert.EventHandler that feeds both a tracing and
// a metrics handler backed by the global providers.
func EventHandler(scope string) (convert.EventHandler, error) {
	metrics, err := NewMetricsHandler(otelapi.GetMeterProvider().Meter(scope))
	if err != nil {
		return nil, fmt.Errorf("otel: create metrics handler: %w", err)
	}
	tracing := NewTracingHandler(otelapi.GetTracerProvider().Tracer(scope))
	return convert.MultiEventHandler(tracing.Handle, metrics.Handle), nil
}
