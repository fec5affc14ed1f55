// Package dispatch fans a check out over many targets and collects exactly
// one classified result per target.
//
// A Dispatcher owns no process-wide state, its configuration is immutable, so
// several runs with different settings can share one process.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CZERTAINLY/checkpar/internal/jobs"
	"github.com/CZERTAINLY/checkpar/internal/log"
	"github.com/CZERTAINLY/checkpar/internal/model"
	"github.com/CZERTAINLY/checkpar/internal/observe"
	"github.com/CZERTAINLY/checkpar/internal/parallel"
	"github.com/CZERTAINLY/checkpar/internal/plugin"
	"github.com/CZERTAINLY/checkpar/internal/report"
)

// Config is fixed for the lifetime of a Dispatcher.
type Config struct {
	Concurrency int
	// Timeout is the per job timeout enforced by the invoker. Zero disables
	// the result deadline.
	Timeout time.Duration
	// Grace is added to Timeout before a missing result is declared lost.
	// It also bounds the wait for workers once all results are in.
	Grace time.Duration
}

// Deadline is how long the dispatcher waits for a started job.
func (c Config) Deadline() time.Duration {
	return c.Timeout + c.Grace
}

// Invoker runs one check. It must return, not panic, for every job.
type Invoker interface {
	Invoke(ctx context.Context, job model.Job) model.RawResult
}

type InvokerFunc func(ctx context.Context, job model.Job) model.RawResult

func (f InvokerFunc) Invoke(ctx context.Context, job model.Job) model.RawResult {
	return f(ctx, job)
}

type Dispatcher struct {
	cfg      Config
	invoker  Invoker
	parser   plugin.Parser
	recorder observe.Recorder
	tracer   trace.Tracer
}

// NewDispatcher returns a dispatcher. A nil obs disables telemetry.
func NewDispatcher(cfg Config, invoker Invoker, parser plugin.Parser, obs *observe.Observer) *Dispatcher {
	if obs == nil {
		obs = observe.Nop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = model.DefaultConcurrency
	}
	return &Dispatcher{
		cfg:      cfg,
		invoker:  invoker,
		parser:   parser,
		recorder: obs.Recorder(),
		tracer:   obs.Tracer(),
	}
}

// checked is what a worker publishes.
type checked struct {
	raw    model.RawResult
	parsed model.ParsedResult
}

type started struct {
	job model.Job
	at  time.Time
}

// Run checks every target and reduces the results. It returns
// model.ErrNoTargets for an empty list and model.ErrInterrupted when ctx is
// cancelled before all results were collected. Partial results are never
// reduced.
func (d *Dispatcher) Run(ctx context.Context, targets []string) (model.Outcome, error) {
	if len(targets) == 0 {
		return model.Outcome{}, model.ErrNoTargets
	}

	ctx = log.ContextAttrs(ctx, slog.String("run_id", uuid.NewString()))
	ctx, span := d.tracer.Start(ctx, "checkpar.dispatch", trace.WithAttributes(
		attribute.Int("checkpar.targets", len(targets)),
		attribute.Int("checkpar.concurrency", d.cfg.Concurrency),
	))
	defer span.End()

	slog.DebugContext(ctx, "dispatch started",
		"targets", len(targets),
		"concurrency", d.cfg.Concurrency,
		"timeout", d.cfg.Timeout,
		"grace", d.cfg.Grace,
	)

	queue := jobs.NewQueue(targets)
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered to the number of jobs, workers never block on it
	starts := make(chan started, queue.Len())
	pool := parallel.NewPool(d.cfg.Concurrency, d.check).
		OnStart(func(job model.Job) {
			starts <- started{job: job, at: time.Now()}
		}).
		OnPanic(d.recovered(ctx))
	mapped := pool.Run(poolCtx, queue)

	results, err := d.collect(ctx, queue.Len(), starts, mapped, pool.Spawn)
	cancel()
	d.drain(ctx, pool)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "dispatch interrupted",
			"collected", len(results),
			"not_started", queue.Remaining(),
			"targets", len(targets),
		)
		return model.Outcome{}, err
	}

	outcome := report.Reduce(results)
	span.SetAttributes(attribute.String("checkpar.severity", outcome.Severity.String()))
	slog.InfoContext(ctx, "dispatch finished",
		"severity", outcome.Severity.String(),
		"workers", pool.Workers(),
		"ok", len(outcome.Buckets[model.OK]),
		"warning", len(outcome.Buckets[model.Warning]),
		"critical", len(outcome.Buckets[model.Critical]),
		"unknown", len(outcome.Buckets[model.Unknown]),
	)
	return outcome, nil
}

// collect consumes exactly n results keyed by job ID. A started job which
// does not report before its deadline is recorded as UNKNOWN, its late
// result is dropped. The worker holding a lost job is replaced through
// spawn, so the jobs still queued get started.
func (d *Dispatcher) collect(ctx context.Context, n int, starts <-chan started, mapped <-chan checked, spawn func() bool) ([]model.ParsedResult, error) {
	collected := make(map[int]model.ParsedResult, n)
	pending := make(map[int]started)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var expired <-chan time.Time

	for len(collected) < n {
		select {
		case <-ctx.Done():
			return values(collected), fmt.Errorf("%w: %w", model.ErrInterrupted, context.Cause(ctx))
		case s := <-starts:
			if _, ok := collected[s.job.ID]; ok {
				continue
			}
			pending[s.job.ID] = s
		case c, ok := <-mapped:
			if !ok {
				// every worker exited, only deadlines or ctx can finish the run
				mapped = nil
				continue
			}
			id := c.raw.Job.ID
			if _, ok := collected[id]; ok {
				slog.DebugContext(ctx, "dropping late result", "target", c.raw.Job.Target, "job", id)
				continue
			}
			delete(pending, id)
			collected[id] = c.parsed
			d.recorder.RecordCheck(ctx, c.parsed, c.raw.Duration())
			d.logResult(ctx, c)
		case now := <-expired:
			for id, s := range pending {
				if now.Before(s.at.Add(d.cfg.Deadline())) {
					continue
				}
				delete(pending, id)
				collected[id] = d.lost(ctx, s.job)
				if len(collected) < n && !spawn() {
					slog.WarnContext(ctx, "cannot replace worker", "target", s.job.Target, "job", id)
				}
			}
		}
		expired = d.arm(timer, pending)
	}
	if err := ctx.Err(); err != nil {
		return values(collected), fmt.Errorf("%w: %w", model.ErrInterrupted, context.Cause(ctx))
	}
	return values(collected), nil
}

// arm resets timer to the earliest pending deadline.
func (d *Dispatcher) arm(timer *time.Timer, pending map[int]started) <-chan time.Time {
	if d.cfg.Timeout <= 0 || len(pending) == 0 {
		timer.Stop()
		return nil
	}
	var earliest time.Time
	for _, s := range pending {
		if dl := s.at.Add(d.cfg.Deadline()); earliest.IsZero() || dl.Before(earliest) {
			earliest = dl
		}
	}
	timer.Reset(time.Until(earliest))
	return timer.C
}

func (d *Dispatcher) lost(ctx context.Context, job model.Job) model.ParsedResult {
	parsed := d.parser.Result(model.RawResult{
		Job:  job,
		Text: fmt.Sprintf("UNKNOWN - no result within %s", d.cfg.Deadline()),
	})
	slog.WarnContext(ctx, "check result lost", "target", job.Target, "job", job.ID, "deadline", d.cfg.Deadline())
	d.recorder.RecordDeadline(ctx, job)
	d.recorder.RecordCheck(ctx, parsed, d.cfg.Deadline())
	return parsed
}

// drain waits at most Grace for the workers to exit.
func (d *Dispatcher) drain(ctx context.Context, pool *parallel.Pool[model.Job, checked]) {
	select {
	case <-pool.Done():
	case <-time.After(d.cfg.Grace):
		slog.WarnContext(ctx, "workers did not stop in time", "grace", d.cfg.Grace)
	}
}

// check is the worker function.
func (d *Dispatcher) check(ctx context.Context, job model.Job) checked {
	ctx = log.ContextAttrs(ctx,
		slog.String("target", job.Target),
		slog.Int("job", job.ID),
	)
	ctx, span := d.tracer.Start(ctx, "checkpar.check", trace.WithAttributes(
		attribute.String("checkpar.target", job.Target),
		attribute.Int("checkpar.job", job.ID),
	))
	defer span.End()

	raw := d.invoker.Invoke(ctx, job)
	parsed := d.parser.Result(raw)

	span.SetAttributes(
		attribute.String("checkpar.severity", parsed.Severity.String()),
		attribute.Int("checkpar.exit_code", raw.ExitCode),
	)
	if raw.Err != nil {
		span.RecordError(raw.Err)
		span.SetStatus(codes.Error, raw.Err.Error())
	}
	return checked{raw: raw, parsed: parsed}
}

func (d *Dispatcher) recovered(ctx context.Context) func(model.Job, any) checked {
	return func(job model.Job, r any) checked {
		slog.ErrorContext(ctx, "check panicked", "target", job.Target, "job", job.ID, "panic", r)
		raw := model.RawResult{
			Job:      job,
			ExitCode: -1,
			Text:     fmt.Sprintf("UNKNOWN - check panicked: %v", r),
			Err:      fmt.Errorf("panic: %v", r),
		}
		return checked{raw: raw, parsed: d.parser.Result(raw)}
	}
}

func (d *Dispatcher) logResult(ctx context.Context, c checked) {
	attrs := []any{
		"target", c.raw.Job.Target,
		"job", c.raw.Job.ID,
		"severity", c.parsed.Severity.String(),
		"status", c.parsed.Status,
		"exit_code", c.raw.ExitCode,
		"duration", c.raw.Duration(),
	}
	if c.parsed.HasMessage {
		attrs = append(attrs, "message", c.parsed.Message)
	}
	if c.raw.Err != nil {
		attrs = append(attrs, "error", c.raw.Err)
	}
	slog.DebugContext(ctx, "check finished", attrs...)
}

func values(m map[int]model.ParsedResult) []model.ParsedResult {
	ret := make([]model.ParsedResult, 0, len(m))
	for _, v := range m {
		ret = append(ret, v)
	}
	return ret
}
