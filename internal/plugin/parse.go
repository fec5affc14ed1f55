package plugin

import (
	"strings"

	"github.com/CZERTAINLY/checkpar/internal/model"
)

const (
	pipeDelimiter = " | "
	dashDelimiter = " - "
)

// Output is a parsed plugin line.
type Output struct {
	Status     string
	Message    string
	HasMessage bool
}

// Parser splits plugin output into status and message. StripPrefixes are
// removed from the front of the status, e.g. "IPMI Status: ".
type Parser struct {
	StripPrefixes []string
}

func NewParser(stripPrefixes ...string) Parser {
	return Parser{StripPrefixes: append([]string(nil), stripPrefixes...)}
}

func (p Parser) Parse(text string) Output {
	var out Output
	if status, msg, ok := strings.Cut(text, pipeDelimiter); ok {
		out = Output{Status: status, Message: msg, HasMessage: true}
	} else if status, msg, ok := strings.Cut(text, dashDelimiter); ok {
		out = Output{Status: status, Message: msg, HasMessage: true}
	} else {
		out = Output{Status: text}
	}
	for _, prefix := range p.StripPrefixes {
		if prefix == "" {
			continue
		}
		out.Status = strings.TrimPrefix(out.Status, prefix)
	}
	return out
}

// Result parses and classifies a raw result.
func (p Parser) Result(raw model.RawResult) model.ParsedResult {
	out := p.Parse(raw.Text)
	return model.ParsedResult{
		Job:        raw.Job,
		Status:     out.Status,
		Message:    out.Message,
		HasMessage: out.HasMessage,
		Severity:   Classify(out.Status),
	}
}
