package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crimson-sun/tre/internal/model"
)

func statusEvent(msg string) model.Event {
	return model.Event{
		Kind:      model.EventStatus,
		RunID:     "run-42",
		Timestamp: time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
		Message:   msg,
	}
}

type collector struct {
	mu      sync.Mutex
	batches []Batch
	runIDs  []string
}

func (c *collector) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var batch Batch
	json.Unmarshal(body, &batch)
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.runIDs = append(c.runIDs, r.Header.Get(RunHeader))
	c.mu.Unlock()
	w.WriteHeader(200)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestBatchFlushAtBatchSize(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(3), WithFlushInterval(10*time.Second))
	for i := 0; i < 3; i++ {
		out.Write(context.Background(), statusEvent("tick"))
	}

	if c.count() != 1 {
		t.Fatalf("expected 1 batch, got %d", c.count())
	}
	if len(c.batches[0].Events) != 3 || c.batches[0].Seq != 1 {
		t.Errorf("batch = %+v, want seq 1 with 3 events", c.batches[0])
	}
	if c.runIDs[0] != "run-42" {
		t.Errorf("run header = %q, want run-42", c.runIDs[0])
	}
}

func TestStepUpdateFlushesImmediately(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(100), WithFlushInterval(10*time.Second))
	out.Write(context.Background(), statusEvent("Connected."))
	out.Write(context.Background(), model.Event{
		Kind:   model.EventStepUpdate,
		RunID:  "run-42",
		Update: &model.StepUpdate{StepInfo: model.StepInfo{Index: 1, Name: "boot"}, Result: model.Pass},
	})

	if c.count() != 1 {
		t.Fatalf("expected 1 batch, got %d", c.count())
	}
	if ev := c.batches[0].Events; len(ev) != 2 || ev[1].Update.Result != model.Pass {
		t.Errorf("batch = %+v", c.batches[0])
	}
}

func TestTimerFlushBeforeBatchSize(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(100), WithFlushInterval(100*time.Millisecond))
	out.Write(context.Background(), statusEvent("timer"))

	time.Sleep(300 * time.Millisecond)

	if c.count() != 1 {
		t.Fatalf("expected 1 timer-triggered batch, got %d", c.count())
	}
}

func TestRetryOn5xx(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(1), WithRetryBackoff(10*time.Millisecond))
	if err := out.Write(context.Background(), statusEvent("retry")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOn4xx(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(400)
	}))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(1))
	if err := out.Write(context.Background(), statusEvent("client-error")); err == nil {
		t.Error("expected error for 400 response")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected exactly 1 attempt for 4xx, got %d", attempts.Load())
	}
}

func TestCustomHeaders(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("X-Custom-Auth"))
		w.WriteHeader(200)
	}))
	defer srv.Close()

	out := New(srv.URL,
		WithBatchSize(1),
		WithHeaders(map[string]string{"X-Custom-Auth": "secret123"}),
	)
	out.Write(context.Background(), statusEvent("headers"))

	if gotAuth.Load() != "secret123" {
		t.Errorf("custom header = %v, want secret123", gotAuth.Load())
	}
}

func TestTimerFlushErrorCallbackInvoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
	}))
	defer srv.Close()

	var errCount atomic.Int64
	out := New(srv.URL,
		WithBatchSize(100),
		WithFlushInterval(50*time.Millisecond),
		WithOnError(func(err error) { errCount.Add(1) }),
	)
	out.Write(context.Background(), statusEvent("timer-error"))

	time.Sleep(300 * time.Millisecond)

	if errCount.Load() != 1 {
		t.Errorf("expected error callback called 1 time, got %d", errCount.Load())
	}
	out.Close()
}

func TestCloseFlushesRemaining(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(100), WithFlushInterval(10*time.Second))
	out.Write(context.Background(), statusEvent("close-flush"))
	out.Write(context.Background(), statusEvent("close-flush"))
	out.Close()

	if c.count() != 1 {
		t.Fatalf("expected 1 batch on Close, got %d", c.count())
	}
	if b := c.batches[0]; len(b.Events) != 2 || !b.Final || b.RunID != "run-42" {
		t.Errorf("batch = %+v, want final batch of 2", b)
	}
}

func TestCloseSendsEmptyFinalBatch(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(1))
	out.Write(context.Background(), statusEvent("only"))
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	if c.count() != 2 {
		t.Fatalf("expected 2 batches, got %d", c.count())
	}
	last := c.batches[1]
	if !last.Final || last.Seq != 2 || len(last.Events) != 0 {
		t.Errorf("final batch = %+v", last)
	}
	if err := out.Write(context.Background(), statusEvent("late")); err == nil {
		t.Error("expected error writing after Close")
	}
}

func TestCloseWithoutEventsSendsNothing(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	if err := New(srv.URL).Close(); err != nil {
		t.Fatal(err)
	}
	if c.count() != 0 {
		t.Errorf("expected no batches, got %d", c.count())
	}
}

func TestRetryOn429(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(1), WithRetryBackoff(time.Millisecond))
	if err := out.Write(context.Background(), statusEvent("throttled")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}
