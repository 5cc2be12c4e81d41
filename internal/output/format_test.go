package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/model"
)

func updateEvent(evidence string) model.Event {
	return model.Event{
		Kind:      model.EventStepUpdate,
		RunID:     "run-1",
		Timestamp: time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC),
		Update: &model.StepUpdate{
			StepInfo: model.StepInfo{Index: 1, Name: "boot", Description: "BOOT ***OK"},
			Result:   model.Pass,
			Evidence: evidence,
		},
	}
}

func TestFormatEventMinimal(t *testing.T) {
	orig := updateEvent(strings.Repeat("a", 500))
	e := FormatEvent(orig, compactor.Minimal)

	if e.Update.Description != "" {
		t.Fatal("Description should be empty at Minimal")
	}
	if len(e.Update.Evidence) != 203 {
		t.Fatalf("Evidence length = %d, want 203", len(e.Update.Evidence))
	}
	if e.Update.Name != "boot" || e.Update.Result != model.Pass {
		t.Fatal("Name and Result should be preserved")
	}
	if orig.Update.Description == "" || len(orig.Update.Evidence) != 500 {
		t.Fatal("input event was modified")
	}
}

func TestFormatEventStandard(t *testing.T) {
	e := FormatEvent(updateEvent("short"), compactor.Standard)
	if e.Update.Evidence != "short" || e.Update.Description != "BOOT ***OK" {
		t.Fatalf("Standard changed a short event: %+v", e.Update)
	}
}

func TestFormatEventFull(t *testing.T) {
	long := strings.Repeat("b", 5000)
	e := FormatEvent(updateEvent(long), compactor.Full)
	if e.Update.Evidence != long {
		t.Fatal("Evidence should be preserved at Full")
	}
}

func TestFormatEventStepsInitMinimal(t *testing.T) {
	e := model.Event{
		Kind:  model.EventStepsInit,
		Steps: []model.StepInfo{{Index: 1, Name: "a", Description: "NOT panic"}},
	}
	got := FormatEvent(e, compactor.Minimal)
	if got.Steps[0].Description != "" {
		t.Fatal("step description should be dropped at Minimal")
	}
	if e.Steps[0].Description == "" {
		t.Fatal("input steps were modified")
	}
}

func TestFormatEventJSONOmitsEmpty(t *testing.T) {
	e := FormatEvent(updateEvent("x"), compactor.Minimal)
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"description"`) {
		t.Fatalf("description should be omitted: %s", data)
	}
	if !strings.Contains(string(data), `"result":"PASS"`) {
		t.Fatalf("missing result: %s", data)
	}
}
