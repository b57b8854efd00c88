package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Shutdown flushes and releases the resources a Setup* call acquired.
type Shutdown func(context.Context) error

// SetupTracing installs a stdout-exporting TracerProvider as the global
// provider (spec §6 CLI surface: coarse per-operation spans, not a network
// collector). A tracer obtained through otel.Tracer resolves against
// whatever provider is globally installed, so this must run before any
// span is started; the engine packages themselves start no spans. w is
// typically os.Stderr, so trace output never interleaves with `evaluate`'s
// result stream on stdout.
func SetupTracing(w io.Writer) (Shutdown, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// SetupMetrics installs a stdout-exporting MeterProvider as the global
// provider, periodically dumping the process's OTel metric instruments
// (spec §1/§5 "metrics export wiring for the bench CLI"). This governs the
// otel/metric surface only — the Prometheus counters in metrics.go are
// registered via promauto regardless of whether SetupMetrics is ever
// called, since `bench` and `evaluate` always want them even without
// stdout tracing enabled.
func SetupMetrics(w io.Writer) (Shutdown, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
