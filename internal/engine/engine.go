package engine

import (
	"fmt"
	"log/slog"

	"github.com/crimson-sun/tre/internal/engine/payload"
	"github.com/crimson-sun/tre/internal/engine/steps"
	"github.com/crimson-sun/tre/internal/model"
)

// Recorder receives every sanitized payload, e.g. for an audit log.
type Recorder interface {
	Record(text string)
}

// Engine orchestrates the extract → sanitize → match pipeline.
type Engine struct {
	machine *steps.Machine
	tap     Recorder
}

// New creates an Engine feeding the given machine. tap may be nil.
func New(m *steps.Machine, tap Recorder) *Engine {
	return &Engine{machine: m, tap: tap}
}

// Process dispatches a single raw line. A panic while matching is contained:
// the current step is marked as errored and the run continues.
func (e *Engine) Process(raw model.RawLine) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("line dispatch panicked", "panic", r, "line", raw.Raw)
			e.machine.Fault(fmt.Sprintf("internal error: %v", r))
		}
	}()

	pl := payload.Sanitize(payload.Extract(raw.Raw))
	if e.tap != nil {
		e.tap.Record(pl)
	}
	e.machine.Observe(raw.Raw, pl)
}

// ProcessBatch dispatches lines in order.
func (e *Engine) ProcessBatch(raws []model.RawLine) {
	for _, raw := range raws {
		e.Process(raw)
	}
}
