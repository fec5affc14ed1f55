package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/checkpar/internal/check"
	"github.com/CZERTAINLY/checkpar/internal/dispatch"
	"github.com/CZERTAINLY/checkpar/internal/log"
	"github.com/CZERTAINLY/checkpar/internal/model"
	"github.com/CZERTAINLY/checkpar/internal/observe"
	"github.com/CZERTAINLY/checkpar/internal/plugin"
)

const telemetryShutdownTimeout = 5 * time.Second

// run checks all hosts and prints exactly one line to stdout. The exit
// code is carried by the returned ExitError.
func (a *app) run(cmd *cobra.Command, _ []string) error {
	if err := a.config.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		return a.unknown(cmd, err)
	}

	ctx := log.ContextAttrs(cmd.Context(), slog.Group("checkpar",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	))

	obs, err := observe.New(ctx, observe.Config{
		ServiceName:     "checkpar",
		Version:         version(),
		MetricsExporter: a.config.Metrics.Exporter,
		TracingExporter: a.config.Tracing.Exporter,
	}, cmd.ErrOrStderr())
	if err != nil {
		return a.unknown(cmd, fmt.Errorf("setting up telemetry: %w", err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := obs.Shutdown(sctx); err != nil {
			slog.WarnContext(ctx, "telemetry shutdown", "err", err)
		}
	}()

	cfg := a.config
	invoker := check.NewInvoker(check.Command{
		Plugin:   cfg.Check.Plugin,
		HostFlag: cfg.Check.HostFlag,
		Args:     cfg.Check.Args,
		Env:      cfg.Check.Environ(),
		Shell:    cfg.Check.Shell,
		Timeout:  cfg.Check.Timeout.Duration,
	})
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.Check.Timeout.Duration,
		Grace:       cfg.Check.Grace.Duration,
	}, invoker, plugin.NewParser(cfg.Check.StripPrefixes...), obs)

	outcome, err := dispatcher.Run(ctx, cfg.Hosts)
	switch {
	case errors.Is(err, model.ErrInterrupted):
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), model.KilledMessage)
		return exitError(model.Unknown.ExitCode(), "%s", model.KilledMessage)
	case err != nil:
		return a.unknown(cmd, err)
	}

	for _, r := range outcome.Results {
		slog.DebugContext(ctx, "result",
			"target", r.Job.Target,
			"severity", r.Severity.String(),
			"status", r.Status,
			"message", r.Message,
		)
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), outcome.Summary)
	if code := outcome.Severity.ExitCode(); code != 0 {
		return exitError(code, "%s", outcome.Summary)
	}
	return nil
}

// unknown prints err as an UNKNOWN status line and returns the matching
// ExitError.
func (a *app) unknown(cmd *cobra.Command, err error) error {
	line := "UNKNOWN - " + err.Error()
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
	return exitError(model.Unknown.ExitCode(), "%s", line)
}
