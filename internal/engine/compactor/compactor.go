package compactor

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Verbosity controls how much evidence text is kept in output records.
type Verbosity int

const (
	Minimal  Verbosity = iota // short evidence, no step descriptions
	Standard                  // evidence up to a few KB
	Full                      // retain everything
)

const (
	minimalLimit  = 200
	standardLimit = 2000
)

// ParseVerbosity maps "minimal", "standard" or "full" to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return Minimal, nil
	case "standard", "":
		return Standard, nil
	case "full":
		return Full, nil
	default:
		return Standard, fmt.Errorf("unknown verbosity %q", s)
	}
}

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "standard"
	}
}

// Compactor shortens evidence text according to its verbosity.
type Compactor struct {
	Verbosity Verbosity
}

// New creates a Compactor with the given verbosity level.
func New(v Verbosity) *Compactor {
	return &Compactor{Verbosity: v}
}

// Compact returns text cut to the verbosity's limit.
func (c *Compactor) Compact(text string) string {
	switch c.Verbosity {
	case Minimal:
		return truncate(text, minimalLimit)
	case Standard:
		return truncate(text, standardLimit)
	default:
		return text
	}
}

// truncate cuts s to maxRunes runes and appends "..." when shortened.
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
