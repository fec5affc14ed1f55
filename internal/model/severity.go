package model

import (
	"fmt"
	"strings"
)

// Severity is the monitoring state of a check, its numeric value is the
// process exit code used by host/service monitoring frameworks.
type Severity int

const (
	OK Severity = iota
	Warning
	Critical
	Unknown
)

// Severities lists all levels in reduction precedence, most severe first.
var Severities = []Severity{Critical, Warning, Unknown, OK}

func (s Severity) String() string {
	switch s {
	case OK:
		return "OK"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	case Unknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Lower returns the lower case name used in summary lines.
func (s Severity) Lower() string {
	return strings.ToLower(s.String())
}

// ExitCode returns the plugin exit code. Out of range values map to UNKNOWN.
func (s Severity) ExitCode() int {
	if s < OK || s > Unknown {
		return int(Unknown)
	}
	return int(s)
}

// Rank orders severities for aggregation: CRITICAL > WARNING > UNKNOWN > OK.
func (s Severity) Rank() int {
	switch s {
	case Critical:
		return 3
	case Warning:
		return 2
	case Unknown:
		return 1
	default:
		return 0
	}
}
