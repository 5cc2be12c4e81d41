package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/model"
)

func TestWritePlain(t *testing.T) {
	var buf bytes.Buffer
	out := New(&buf, false, compactor.Standard)
	ctx := context.Background()

	out.Write(ctx, model.Event{Kind: model.EventStatus, Message: "Connected."})
	out.Write(ctx, model.Event{Kind: model.EventStepsInit, Steps: []model.StepInfo{
		{Index: 1, Name: "boot", Description: "BOOT ***OK"},
		{Index: 2, Name: "quiet", Description: "NOT panic"},
	}})
	out.Write(ctx, model.Event{Kind: model.EventStepUpdate, Update: &model.StepUpdate{
		StepInfo: model.StepInfo{Index: 1, Name: "boot"}, Result: model.Pass, Evidence: "BOOT sequence OK",
	}})
	out.Write(ctx, model.Event{Kind: model.EventStepUpdate, Update: &model.StepUpdate{
		StepInfo: model.StepInfo{Index: 2, Name: "quiet"}, Result: model.Fail, Evidence: "kernel panic",
	}})
	out.Write(ctx, model.Event{Kind: model.EventPayload, Message: "ignored"})

	got := buf.String()
	for _, want := range []string{
		"● Connected.",
		"2 step(s)",
		"   1. boot  BOOT ***OK",
		"✓ PASS  [1] boot  BOOT sequence OK",
		"✗ FAIL  [2] quiet  kernel panic",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "ignored") {
		t.Error("payload events should not be printed")
	}
	if strings.Contains(got, "\x1b[") {
		t.Error("plain output contains ANSI escapes")
	}
}

func TestTotals(t *testing.T) {
	var buf bytes.Buffer
	out := New(&buf, false, compactor.Standard)
	out.Totals(3, 1, 0, 1500*time.Millisecond)

	if got, want := buf.String(), "3 passed, 1 failed in 1.5s\n"; got != want {
		t.Errorf("Totals() = %q, want %q", got, want)
	}
}

func TestErrorResult(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false, compactor.Standard).Write(context.Background(), model.Event{
		Kind:   model.EventStepUpdate,
		Update: &model.StepUpdate{StepInfo: model.StepInfo{Index: 4, Name: "bad"}, Result: model.Error, Evidence: "invalid step"},
	})
	if !strings.HasPrefix(buf.String(), "! ERROR [4] bad") {
		t.Errorf("output = %q", buf.String())
	}
}
