package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crimson-sun/tre/internal/model"
)

type mockOutput struct {
	mu     sync.Mutex
	events []model.Event
	closed bool
	err    error         // if set, Write returns this
	delay  time.Duration // if >0, Write sleeps first
}

func (m *mockOutput) Write(_ context.Context, event model.Event) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return m.err
}

func (m *mockOutput) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockOutput) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func status(msg string) model.Event {
	return model.Event{Kind: model.EventStatus, Message: msg}
}

func TestEventsFlowThroughInOrder(t *testing.T) {
	inner := &mockOutput{}
	a := New(inner, WithBufferSize(16))

	for _, msg := range []string{"Connected.", "Live matching started.", "Stopped."} {
		if err := a.Write(context.Background(), status(msg)); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if inner.eventCount() != 3 {
		t.Fatalf("got %d events, want 3", inner.eventCount())
	}
	if inner.events[2].Message != "Stopped." {
		t.Errorf("last event = %q, want Stopped.", inner.events[2].Message)
	}
	if !inner.closed {
		t.Error("inner output not closed")
	}
}

func TestBackpressureBlocks(t *testing.T) {
	inner := &mockOutput{delay: 50 * time.Millisecond}
	a := New(inner, WithBufferSize(1))

	a.Write(context.Background(), status("first"))

	done := make(chan struct{})
	go func() {
		a.Write(context.Background(), status("second"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked indefinitely (expected eventual unblock via drain)")
	}

	a.Close()
}

func TestDropOnFull(t *testing.T) {
	inner := &mockOutput{delay: 100 * time.Millisecond}
	a := New(inner, WithBufferSize(1), WithDropOnFull())

	start := time.Now()
	for i := 0; i < 20; i++ {
		a.Write(context.Background(), status("burst"))
	}
	if time.Since(start) > time.Second {
		t.Error("drop-on-full Write blocked")
	}

	a.Close()

	if inner.eventCount() == 20 {
		t.Error("expected some events to be dropped in drop-on-full mode")
	}
	if inner.eventCount() == 0 {
		t.Error("expected at least some events to be delivered")
	}
	if got := a.Dropped(); got != int64(20-inner.eventCount()) {
		t.Errorf("Dropped() = %d, delivered %d of 20", got, inner.eventCount())
	}
}

func TestKeptKindsSurviveDropOnFull(t *testing.T) {
	inner := &mockOutput{delay: 20 * time.Millisecond}
	a := New(inner, WithBufferSize(1), WithDropOnFull(), WithKeep(model.EventStepUpdate))

	start := time.Now()
	for i := 1; i <= 10; i++ {
		a.Write(context.Background(), status("burst"))
		a.Write(context.Background(), model.Event{
			Kind:   model.EventStepUpdate,
			Update: &model.StepUpdate{StepInfo: model.StepInfo{Index: i}, Result: model.Pass},
		})
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("kept events blocked the writer")
	}
	a.Close()

	var got []int
	inner.mu.Lock()
	for _, e := range inner.events {
		if e.Kind == model.EventStepUpdate {
			got = append(got, e.Update.Index)
		}
	}
	inner.mu.Unlock()
	if len(got) != 10 {
		t.Fatalf("delivered %d step updates, want 10", len(got))
	}
	for i, idx := range got {
		if idx != i+1 {
			t.Fatalf("step updates out of order: %v", got)
		}
	}
	if a.Dropped() == 0 {
		t.Error("expected status events to be dropped")
	}
}

func TestCloseDrainsRemaining(t *testing.T) {
	inner := &mockOutput{}
	a := New(inner, WithBufferSize(100))

	for i := 0; i < 50; i++ {
		a.Write(context.Background(), status("drain"))
	}
	a.Close()

	if inner.eventCount() != 50 {
		t.Errorf("after Close, got %d events, want 50 (drain incomplete)", inner.eventCount())
	}
}

func TestErrorCallbackInvoked(t *testing.T) {
	inner := &mockOutput{err: errors.New("write failed")}
	var errorCount atomic.Int64
	a := New(inner, WithBufferSize(16), WithOnError(func(err error) {
		errorCount.Add(1)
	}))

	for i := 0; i < 5; i++ {
		a.Write(context.Background(), status("failing"))
	}
	a.Close()

	if errorCount.Load() != 5 {
		t.Errorf("error callback called %d times, want 5", errorCount.Load())
	}
}

func TestDrainTimeout(t *testing.T) {
	inner := &mockOutput{delay: 500 * time.Millisecond}
	a := New(inner, WithBufferSize(16), WithDrainTimeout(50*time.Millisecond))
	for i := 0; i < 5; i++ {
		a.Write(context.Background(), status("slow"))
	}

	start := time.Now()
	a.Close()
	if time.Since(start) > 400*time.Millisecond {
		t.Errorf("Close took %v, want it bounded by the drain timeout", time.Since(start))
	}
}

func TestWriteAfterClose(t *testing.T) {
	inner := &mockOutput{}
	a := New(inner, WithBufferSize(16))
	a.Close()

	if err := a.Write(context.Background(), status("late")); err != nil {
		t.Fatalf("Write after Close error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if inner.eventCount() != 0 {
		t.Errorf("late event was delivered")
	}
}
