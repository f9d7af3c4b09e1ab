// Package telemetry builds the OpenTelemetry tracer and meter the
// orchestrator package's instrumentation hooks into (spec §4.1, §4.4).
// It exports traces and metrics to stdout rather than an OTLP collector —
// flowmind has no collector dependency configured, so this keeps the
// pipeline self-contained while still exercising the real SDK plumbing
// (batch span processor, periodic metric reader, resource attributes).
package telemetry

import (
	"context"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider bundles a tracer and meter plus the SDK providers backing them,
// so callers can pass Tracer()/Meter() into orchestrator.WithTelemetry and
// hold onto the Provider only to Shutdown it.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	shutdownOnce sync.Once
}

// New builds a Provider that writes spans and metrics to w (os.Stdout in
// production, io.Discard in tests) as newline-delimited JSON, tagged with
// serviceName as the resource's service.name attribute.
func New(serviceName string, w io.Writer) (*Provider, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)

	return &Provider{
		tracer:         tp.Tracer(serviceName),
		meter:          mp.Meter(serviceName),
		traceProvider:  tp,
		metricProvider: mp,
	}, nil
}

// Tracer returns the provider's tracer, for orchestrator.WithTelemetry.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the provider's meter, for orchestrator.WithTelemetry.
func (p *Provider) Meter() metric.Meter { return p.meter }

// Shutdown flushes and stops the underlying span and metric exporters. Safe
// to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		if shutdownErr := p.traceProvider.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
		}
		if shutdownErr := p.metricProvider.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	})
	return err
}
