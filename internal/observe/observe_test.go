package observe_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/CZERTAINLY/checkpar/internal/model"
	"github.com/CZERTAINLY/checkpar/internal/observe"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	rec, err := observe.NewRecorder(mp.Meter("test"))
	require.NoError(t, err)

	ctx := t.Context()
	rec.RecordCheck(ctx, model.ParsedResult{Severity: model.OK}, 10*time.Millisecond)
	rec.RecordCheck(ctx, model.ParsedResult{Severity: model.OK}, 20*time.Millisecond)
	rec.RecordCheck(ctx, model.ParsedResult{Severity: model.Critical}, 30*time.Millisecond)
	rec.RecordDeadline(ctx, model.Job{Target: "h1"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	total := findMetric(t, rm, "checkpar.check.total")
	sum, ok := total.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", total.Data)
	bySeverity := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, ok := dp.Attributes.Value(attribute.Key("severity"))
		require.True(t, ok)
		bySeverity[v.AsString()] = dp.Value
	}
	require.Equal(t, map[string]int64{"OK": 2, "CRITICAL": 1}, bySeverity)

	deadline := findMetric(t, rm, "checkpar.check.deadline_exceeded")
	dsum, ok := deadline.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, dsum.DataPoints, 1)
	require.Equal(t, int64(1), dsum.DataPoints[0].Value)

	hist := findMetric(t, rm, "checkpar.check.duration_ms")
	_, ok = hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("none", func(t *testing.T) {
		obs, err := observe.New(t.Context(), observe.Config{ServiceName: "checkpar"}, &bytes.Buffer{})
		require.NoError(t, err)
		require.IsType(t, observe.NopRecorder{}, obs.Recorder())
		require.NoError(t, obs.Shutdown(t.Context()))
	})

	t.Run("stdout", func(t *testing.T) {
		var buf bytes.Buffer
		obs, err := observe.New(t.Context(), observe.Config{
			ServiceName:     "checkpar",
			MetricsExporter: "stdout",
			TracingExporter: "stdout",
		}, &buf)
		require.NoError(t, err)

		_, span := obs.Tracer().Start(t.Context(), "checkpar.test")
		span.End()
		obs.Recorder().RecordCheck(t.Context(), model.ParsedResult{Severity: model.Warning}, time.Millisecond)

		require.NoError(t, obs.Shutdown(context.Background()))
		require.Contains(t, buf.String(), "checkpar.test")
		require.Contains(t, buf.String(), "checkpar.check.total")
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := observe.New(t.Context(), observe.Config{MetricsExporter: "prometheus"}, &bytes.Buffer{})
		require.Error(t, err)
	})
}

func TestNop(t *testing.T) {
	t.Parallel()
	obs := observe.Nop()
	require.NotNil(t, obs.Tracer())
	obs.Recorder().RecordCheck(t.Context(), model.ParsedResult{}, 0)
	require.NoError(t, obs.Shutdown(t.Context()))
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	require.Failf(t, "metric not found", "%s", name)
	return metricdata.Metrics{}
}

func TestFromProviders(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	obs, err := observe.FromProviders(tp, mp)
	require.NoError(t, err)

	_, span := obs.Tracer().Start(t.Context(), "checkpar.dispatch")
	span.End()
	obs.Recorder().RecordCheck(t.Context(), model.ParsedResult{Severity: model.Unknown}, time.Second)
	require.NoError(t, obs.Shutdown(t.Context()))

	require.Len(t, sr.Ended(), 1)
	require.Equal(t, "checkpar.dispatch", sr.Ended()[0].Name())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	findMetric(t, rm, "checkpar.check.total")
}
