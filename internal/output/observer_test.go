package output

import (
	"context"
	"errors"
	"testing"

	"github.com/crimson-sun/tre/internal/model"
)

type memOutput struct {
	events []model.Event
	err    error
}

func (m *memOutput) Write(_ context.Context, e model.Event) error {
	m.events = append(m.events, e)
	return m.err
}

func (m *memOutput) Close() error { return nil }

func TestObserverEmitsEvents(t *testing.T) {
	out := &memOutput{}
	var obs model.Observer = NewObserver(out, "run-7")

	obs.OnStatus("Connected.")
	obs.OnStepsInit([]model.StepInfo{{Index: 1, Name: "boot"}})
	obs.OnStepUpdate(model.StepUpdate{StepInfo: model.StepInfo{Index: 1, Name: "boot"}, Result: model.Fail, Evidence: "[timeout 5s]"})

	if len(out.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(out.events))
	}
	kinds := []model.EventKind{model.EventStatus, model.EventStepsInit, model.EventStepUpdate}
	for i, e := range out.events {
		if e.Kind != kinds[i] {
			t.Errorf("event %d kind = %s, want %s", i, e.Kind, kinds[i])
		}
		if e.RunID != "run-7" || e.Timestamp.IsZero() {
			t.Errorf("event %d missing run ID or timestamp: %+v", i, e)
		}
	}
	if out.events[0].Message != "Connected." {
		t.Errorf("status message = %q", out.events[0].Message)
	}
	if u := out.events[2].Update; u == nil || u.Result != model.Fail || u.Evidence != "[timeout 5s]" {
		t.Errorf("update = %+v", u)
	}
}

func TestObserverSwallowsWriteErrors(t *testing.T) {
	out := &memOutput{err: errors.New("disk full")}
	NewObserver(out, "r").OnStatus("x")
	if len(out.events) != 1 {
		t.Fatal("write was not attempted")
	}
}
