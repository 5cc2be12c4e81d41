package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/output"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
	dropLogEvery        = 1000
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the queue capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write return immediately, dropping the event, when
// the buffer is full. The engine's observer path uses this so a slow sink
// can never stall line dispatch.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// WithKeep exempts events of the given kinds from WithDropOnFull: they are
// queued even past the buffer size and never dropped or blocked on. Meant
// for rare, must-deliver events such as step results.
func WithKeep(kinds ...model.EventKind) Option {
	return func(a *Async) {
		for _, k := range kinds {
			a.keep[k] = true
		}
	}
}

// WithDrainTimeout bounds how long Close waits for buffered events.
// Default: 5s.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// Async decouples event production from consumption with a FIFO queue. A
// background goroutine drains it to the wrapped output. Errors from the
// inner output go to errFunc rather than to the caller.
type Async struct {
	inner        output.Output
	done         chan struct{}
	errFunc      func(error)
	bufSize      int
	dropOnFull   bool
	keep         map[model.EventKind]bool
	drainTimeout time.Duration
	dropped      atomic.Int64

	mu     sync.Mutex
	cond   *sync.Cond // signalled on push, pop and close
	queue  []model.Event
	closed bool
}

// New wraps an output.Output in an async writer. The background drain
// goroutine starts immediately.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		keep:         map[model.EventKind]bool{},
		errFunc:      func(err error) { slog.Warn("async output write error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cond = sync.NewCond(&a.mu)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Write queues the event. By default it blocks while the buffer is full;
// with WithDropOnFull the event is counted as dropped instead, unless its
// kind is kept. Writes after Close are discarded.
func (a *Async) Write(_ context.Context, event model.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.keep[event.Kind]
	for !a.closed && !kept && len(a.queue) >= a.bufSize {
		if a.dropOnFull {
			if n := a.dropped.Add(1); n == 1 || n%dropLogEvery == 0 {
				slog.Warn("async output buffer full, dropping events", "kind", event.Kind, "dropped", n)
			}
			return nil
		}
		a.cond.Wait()
	}
	if a.closed {
		return nil
	}
	a.queue = append(a.queue, event)
	a.cond.Broadcast()
	return nil
}

// Dropped returns how many events were discarded because the buffer was full.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting events, waits for the drain goroutine (bounded by
// the drain timeout), then closes the inner output.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.cond.Broadcast()
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(a.drainTimeout):
		a.mu.Lock()
		pending := len(a.queue)
		a.mu.Unlock()
		slog.Warn("async output drain timed out", "pending", pending)
	}
	return a.inner.Close()
}

func (a *Async) drain() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.closed {
			a.cond.Wait()
		}
		if len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		event := a.queue[0]
		a.queue[0] = model.Event{}
		a.queue = a.queue[1:]
		a.cond.Broadcast()
		a.mu.Unlock()

		if err := a.inner.Write(context.Background(), event); err != nil {
			a.errFunc(err)
		}
	}
}
