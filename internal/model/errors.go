package model

import (
	"errors"
)

var (
	ErrNoTargets     = errors.New("no targets to check")
	ErrNoPlugin      = errors.New("no check plugin configured")
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInterrupted is returned when the run was cancelled before every
	// target reported, partial results are discarded.
	ErrInterrupted = errors.New("interrupted")
)

// KilledMessage is printed instead of a summary when a run is interrupted.
const KilledMessage = "UNKNOWN - killed by signal, results discarded"
