package plugin

import (
	"strings"

	"github.com/CZERTAINLY/checkpar/internal/model"
)

// Classify maps a status to a severity, first match wins.
func Classify(status string) model.Severity {
	switch {
	case strings.Contains(status, "CRITICAL"):
		return model.Critical
	case strings.Contains(status, "WARNING"):
		return model.Warning
	case !strings.Contains(status, "OK") && !strings.Contains(status, "up and running"):
		return model.Unknown
	default:
		return model.OK
	}
}
