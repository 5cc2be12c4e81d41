package model

import "time"

// RawLine is the intermediate type produced by connectors and consumed by the engine.
type RawLine struct {
	Timestamp time.Time
	Source    string // connector name (e.g. "tcp", "file")
	Raw       string // line text without the trailing line break
}
