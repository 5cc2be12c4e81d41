package tap

import (
	"context"
	"testing"
	"time"

	"github.com/crimson-sun/tre/internal/model"
)

type memOutput struct {
	events []model.Event
	closed bool
}

func (m *memOutput) Write(_ context.Context, e model.Event) error {
	m.events = append(m.events, e)
	return nil
}

func (m *memOutput) Close() error {
	m.closed = true
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestPayloadsCollapseRepeats(t *testing.T) {
	out := &memOutput{}
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := NewPayloads(out, "run-1", WithWindow(3*time.Second), WithClock(c.now))

	for i := 0; i < 12; i++ {
		p.Record("heartbeat")
		c.t = c.t.Add(250 * time.Millisecond)
	}
	p.Record("OTA init")
	p.Record("")

	p.FlushDue(c.t.Add(-time.Second))
	if len(out.events) != 0 {
		t.Fatalf("flushed before the window elapsed: %+v", out.events)
	}
	p.FlushDue(c.t.Add(time.Second))

	if len(out.events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(out.events), out.events)
	}
	if want := "heartbeat (x12 in 3s)"; out.events[0].Message != want {
		t.Errorf("message = %q, want %q", out.events[0].Message, want)
	}
	if out.events[0].Count != 12 || out.events[0].RunID != "run-1" || out.events[0].Kind != model.EventPayload {
		t.Errorf("event = %+v", out.events[0])
	}
	if out.events[1].Message != "OTA init" {
		t.Errorf("second message = %q", out.events[1].Message)
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d after flush", p.Pending())
	}
}

func TestPayloadsFlushWhenFull(t *testing.T) {
	out := &memOutput{}
	p := NewPayloads(out, "r", WithMaxSize(3))
	p.Record("a")
	p.Record("b")
	if len(out.events) != 0 {
		t.Fatal("flushed too early")
	}
	p.Record("c")
	if len(out.events) != 3 {
		t.Fatalf("got %d events after filling, want 3", len(out.events))
	}
}

func TestPayloadsCloseFlushes(t *testing.T) {
	out := &memOutput{}
	p := NewPayloads(out, "r")
	p.Record("pending")
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if len(out.events) != 1 || !out.closed {
		t.Errorf("events = %d, closed = %v", len(out.events), out.closed)
	}
}

func TestWireRecordsRawLines(t *testing.T) {
	out := &memOutput{}
	w := NewWire(out, "r")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.RecordLine(model.RawLine{Timestamp: ts, Source: "tcp", Raw: "ECU1 APP1 CTX1: hi"})
	w.RecordLine(model.RawLine{Timestamp: ts, Source: "tcp", Raw: "ECU1 APP1 CTX1: hi"})
	w.Close()

	if len(out.events) != 2 {
		t.Fatalf("got %d events, want 2 (wire lines are never collapsed)", len(out.events))
	}
	if out.events[0].Kind != model.EventWire || out.events[0].Message != "ECU1 APP1 CTX1: hi" || !out.events[0].Timestamp.Equal(ts) {
		t.Errorf("event = %+v", out.events[0])
	}
	if !out.closed {
		t.Error("Close not forwarded")
	}
}
