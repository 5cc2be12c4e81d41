package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/crimson-sun/tre/internal/model"
)

func newTestTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return provider.Tracer("telemetry-test"), recorder
}

func getAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func update(i int, name string, r model.Result, ev string) model.Event {
	return model.Event{
		Kind:      model.EventStepUpdate,
		RunID:     "run-1",
		Timestamp: time.Now(),
		Update:    &model.StepUpdate{StepInfo: model.StepInfo{Index: i, Name: name}, Result: r, Evidence: ev},
	}
}

func TestOutputRecordsRunSpan(t *testing.T) {
	tracer, recorder := newTestTracer()
	out := NewOutput(tracer)
	ctx := context.Background()

	events := []model.Event{
		{Kind: model.EventStatus, RunID: "run-1", Timestamp: time.Now(), Message: "Connected."},
		{Kind: model.EventStepsInit, RunID: "run-1", Timestamp: time.Now(), Steps: []model.StepInfo{{Index: 1, Name: "boot"}}},
		update(1, "boot", model.Pass, "BOOT_COMPLETED"),
	}
	for _, e := range events {
		if err := out.Write(ctx, e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if len(recorder.Ended()) != 0 {
		t.Fatal("span ended before Close")
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "tre.run" {
		t.Errorf("span name = %q", span.Name())
	}
	if v, ok := getAttr(span.Attributes(), "tre.run_id"); !ok || v.AsString() != "run-1" {
		t.Errorf("tre.run_id = %v (found %v)", v, ok)
	}
	if v, ok := getAttr(span.Attributes(), "tre.steps"); !ok || v.AsInt64() != 1 {
		t.Errorf("tre.steps = %v (found %v)", v, ok)
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	evs := span.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 span events, got %d", len(evs))
	}
	if evs[0].Name != "status" {
		t.Errorf("event[0] = %q", evs[0].Name)
	}
	if v, _ := getAttr(evs[1].Attributes, "step.result"); v.AsString() != "PASS" {
		t.Errorf("step.result = %q", v.AsString())
	}
	if v, _ := getAttr(evs[1].Attributes, "step.evidence"); v.AsString() != "BOOT_COMPLETED" {
		t.Errorf("step.evidence = %q", v.AsString())
	}
}

func TestOutputFailureSetsErrorStatus(t *testing.T) {
	tracer, recorder := newTestTracer()
	out := NewOutput(tracer)
	ctx := context.Background()

	_ = out.Write(ctx, model.Event{Kind: model.EventStepsInit, Steps: make([]model.StepInfo, 2)})
	_ = out.Write(ctx, update(1, "a", model.Pass, ""))
	_ = out.Write(ctx, update(2, "b", model.Fail, "timeout"))
	out.Close()

	span := recorder.Ended()[0]
	if span.Status().Code != codes.Error {
		t.Fatalf("status = %v, want Error", span.Status().Code)
	}
	if span.Status().Description != "1 of 2 steps did not pass" {
		t.Errorf("description = %q", span.Status().Description)
	}
}

func TestOutputCloseWithoutEvents(t *testing.T) {
	tracer, recorder := newTestTracer()
	out := NewOutput(tracer)
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	if len(recorder.Ended()) != 0 {
		t.Error("no span expected")
	}
	if err := out.Write(context.Background(), model.Event{Kind: model.EventStatus}); err == nil {
		t.Error("expected error writing after close")
	}
}

func TestNewProviderNoEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	_, span := p.Tracer().Start(context.Background(), "x")
	if span.SpanContext().IsValid() {
		t.Error("expected no-op span")
	}
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
