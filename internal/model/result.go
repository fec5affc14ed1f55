package model

import "time"

// Job is a single target waiting for a check. ID is the submission index,
// so the same target listed twice yields two independent jobs.
type Job struct {
	ID     int
	Target string
}

// RawResult is what a worker publishes once the check command finished.
// Only Text is used for classification, the rest is kept for logs and
// telemetry.
type RawResult struct {
	Job       Job
	Text      string
	ExitCode  int
	Started   time.Time
	Stopped   time.Time
	Cancelled bool
	Err       error
}

// Duration returns the wall time of the check.
func (r RawResult) Duration() time.Duration {
	if r.Started.IsZero() || r.Stopped.IsZero() {
		return 0
	}
	return r.Stopped.Sub(r.Started)
}

// ParsedResult is a RawResult interpreted by the plugin output parser.
type ParsedResult struct {
	Job        Job
	Status     string
	Message    string
	HasMessage bool
	Severity   Severity
}

// Outcome is the terminal artifact of a run.
type Outcome struct {
	Severity Severity
	Summary  string
	// Buckets partitions the checked targets by severity, names are sorted.
	Buckets map[Severity][]string
	// Results holds one entry per submitted job ordered by target and job ID.
	Results []ParsedResult
}
