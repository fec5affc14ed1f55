package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/CZERTAINLY/checkpar/internal/model"
)

// Recorder records per-check metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordCheck is called once per job with its classified result.
	RecordCheck(ctx context.Context, r model.ParsedResult, d time.Duration)
	// RecordDeadline is called when a job did not report before its deadline.
	RecordDeadline(ctx context.Context, job model.Job)
}

type NopRecorder struct{}

func (NopRecorder) RecordCheck(context.Context, model.ParsedResult, time.Duration) {}
func (NopRecorder) RecordDeadline(context.Context, model.Job)                      {}

type meterRecorder struct {
	total    metric.Int64Counter
	deadline metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRecorder creates the check instruments on meter.
func NewRecorder(meter metric.Meter) (Recorder, error) {
	total, err := meter.Int64Counter(
		"checkpar.check.total",
		metric.WithDescription("Number of checks by resulting severity"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	deadline, err := meter.Int64Counter(
		"checkpar.check.deadline_exceeded",
		metric.WithDescription("Number of checks without a result before their deadline"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"checkpar.check.duration_ms",
		metric.WithDescription("Check duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &meterRecorder{
		total:    total,
		deadline: deadline,
		duration: duration,
	}, nil
}

func (m *meterRecorder) RecordCheck(ctx context.Context, r model.ParsedResult, d time.Duration) {
	opt := metric.WithAttributes(attribute.String("severity", r.Severity.String()))
	m.total.Add(ctx, 1, opt)
	m.duration.Record(ctx, float64(d.Milliseconds()), opt)
}

func (m *meterRecorder) RecordDeadline(ctx context.Context, _ model.Job) {
	m.deadline.Add(ctx, 1)
}
