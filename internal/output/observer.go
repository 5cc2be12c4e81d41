package output

import (
	"context"
	"log/slog"
	"time"

	"github.com/crimson-sun/tre/internal/model"
)

// Observer adapts an Output to model.Observer. Each callback becomes one
// Event. Write errors are logged, never returned to the engine; wrap out in
// async.New to keep callbacks from blocking.
type Observer struct {
	out   Output
	runID string
	now   func() time.Time
}

// NewObserver creates an Observer writing events tagged with runID.
func NewObserver(out Output, runID string) *Observer {
	return &Observer{out: out, runID: runID, now: time.Now}
}

func (o *Observer) OnStatus(msg string) {
	o.write(model.Event{Kind: model.EventStatus, Message: msg})
}

func (o *Observer) OnStepsInit(steps []model.StepInfo) {
	o.write(model.Event{Kind: model.EventStepsInit, Steps: append([]model.StepInfo(nil), steps...)})
}

func (o *Observer) OnStepUpdate(u model.StepUpdate) {
	o.write(model.Event{Kind: model.EventStepUpdate, Update: &u})
}

func (o *Observer) write(e model.Event) {
	e.RunID = o.runID
	e.Timestamp = o.now()
	if err := o.out.Write(context.Background(), e); err != nil {
		slog.Warn("observer output write failed", "kind", e.Kind, "error", err)
	}
}
