package multi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crimson-sun/tre/internal/model"
)

// mockOutput records calls for test assertions.
type mockOutput struct {
	events []model.Event
	closed bool
	err    error // if set, Write and Close return this error
}

func (m *mockOutput) Write(_ context.Context, event model.Event) error {
	m.events = append(m.events, event)
	return m.err
}

func (m *mockOutput) Close() error {
	m.closed = true
	return m.err
}

func testEvent(kind model.EventKind, msg string) model.Event {
	return model.Event{Kind: kind, Message: msg, Timestamp: time.Now()}
}

func TestFanOutDeliversToAll(t *testing.T) {
	a := &mockOutput{}
	b := &mockOutput{}
	c := &mockOutput{}
	m := New(a, b, c)

	if err := m.Write(context.Background(), testEvent(model.EventStatus, "Connected.")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, out := range []*mockOutput{a, b, c} {
		if len(out.events) != 1 {
			t.Fatalf("output %d: got %d events, want 1", i, len(out.events))
		}
		if out.events[0].Message != "Connected." {
			t.Errorf("output %d: got message %q", i, out.events[0].Message)
		}
	}
}

func TestErrorDoesNotPreventDelivery(t *testing.T) {
	failing := &mockOutput{err: errors.New("broken")}
	ok := &mockOutput{}
	m := New(failing, ok)

	err := m.Write(context.Background(), testEvent(model.EventStatus, "x"))
	if err == nil {
		t.Fatal("expected error from failing output")
	}
	if len(ok.events) != 1 {
		t.Fatalf("healthy output got %d events, want 1", len(ok.events))
	}
}

func TestCloseJoinsErrors(t *testing.T) {
	e1 := errors.New("first")
	e2 := errors.New("second")
	a := &mockOutput{err: e1}
	b := &mockOutput{err: e2}
	m := New(a, b)

	err := m.Close()
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("Close() = %v, want both errors joined", err)
	}
	if !a.closed || !b.closed {
		t.Fatal("every output should be closed")
	}
}

func TestNilOutputsSkipped(t *testing.T) {
	a := &mockOutput{}
	m := New(nil, a, nil)
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	if err := m.Write(context.Background(), testEvent(model.EventStatus, "x")); err != nil {
		t.Fatal(err)
	}
}

func TestOnlyFiltersKinds(t *testing.T) {
	inner := &mockOutput{}
	f := Only(inner, model.EventStepUpdate, model.EventStepsInit)

	f.Write(context.Background(), testEvent(model.EventPayload, "noise"))
	f.Write(context.Background(), testEvent(model.EventStepUpdate, "result"))
	f.Write(context.Background(), testEvent(model.EventStatus, "Connected."))

	if len(inner.events) != 1 || inner.events[0].Message != "result" {
		t.Fatalf("events = %+v", inner.events)
	}
	f.Close()
	if !inner.closed {
		t.Fatal("Close not forwarded")
	}
}
