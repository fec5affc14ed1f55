// Package observe wires OpenTelemetry metrics and traces for check runs.
//
// Exporters are selected by name: "none" (default), "stdout" and "otlp". The
// stdout exporters write to the writer given to New, never to the process
// stdout, which carries the check summary. The otlp exporters are configured
// through the standard OTEL_EXPORTER_OTLP_* environment variables.
package observe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/CZERTAINLY/checkpar"

type Config struct {
	ServiceName     string
	Version         string
	MetricsExporter string
	TracingExporter string
}

// Observer owns the telemetry providers of one run.
type Observer struct {
	tracer         trace.Tracer
	recorder       Recorder
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Nop returns an Observer which records nothing.
func Nop() *Observer {
	return &Observer{
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		recorder: NopRecorder{},
	}
}

// New creates the providers selected by cfg. w receives stdout exporter
// output.
func New(ctx context.Context, cfg Config, w io.Writer) (*Observer, error) {
	obs := Nop()
	if isNone(cfg.MetricsExporter) && isNone(cfg.TracingExporter) {
		return obs, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	if !isNone(cfg.TracingExporter) {
		exporter, err := newSpanExporter(ctx, cfg.TracingExporter, w)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		obs.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
		)
		obs.tracer = obs.tracerProvider.Tracer(instrumentationName)
	}

	if !isNone(cfg.MetricsExporter) {
		reader, err := newMetricReader(ctx, cfg.MetricsExporter, w)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, fmt.Errorf("creating metrics reader: %w", err)
		}
		obs.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		recorder, err := NewRecorder(obs.meterProvider.Meter(instrumentationName))
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, fmt.Errorf("creating instruments: %w", err)
		}
		obs.recorder = recorder
	}

	return obs, nil
}

// FromProviders builds an Observer on top of providers owned by the caller.
// Shutdown does not stop them.
func FromProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Observer, error) {
	recorder, err := NewRecorder(mp.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("creating instruments: %w", err)
	}
	return &Observer{
		tracer:   tp.Tracer(instrumentationName),
		recorder: recorder,
	}, nil
}

func (o *Observer) Tracer() trace.Tracer {
	return o.tracer
}

func (o *Observer) Recorder() Recorder {
	return o.recorder
}

// Shutdown flushes and stops the providers.
func (o *Observer) Shutdown(ctx context.Context) error {
	var errs []error
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func isNone(exporter string) bool {
	return exporter == "" || exporter == "none"
}
