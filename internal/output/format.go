package output

import (
	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/model"
)

// FormatEvent returns a copy of the event trimmed according to verbosity.
// Evidence is shortened at Minimal and Standard; step descriptions are
// dropped at Minimal. The input is never modified.
func FormatEvent(e model.Event, verbosity compactor.Verbosity) model.Event {
	c := compactor.New(verbosity)
	if e.Update != nil {
		u := *e.Update
		u.Evidence = c.Compact(u.Evidence)
		if verbosity == compactor.Minimal {
			u.Description = ""
		}
		e.Update = &u
	}
	if e.Kind == model.EventPayload || e.Kind == model.EventWire {
		e.Message = c.Compact(e.Message)
	}
	if verbosity == compactor.Minimal && len(e.Steps) > 0 {
		steps := make([]model.StepInfo, len(e.Steps))
		for i, s := range e.Steps {
			s.Description = ""
			steps[i] = s
		}
		e.Steps = steps
	}
	return e
}
