// Package tap records what the engine saw: every sanitized payload (with
// consecutive repeats collapsed) and, optionally, every raw line.
package tap

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/tre/internal/engine/dedup"
	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/output"
)

const (
	DefaultWindow  = 3 * time.Second
	DefaultMaxSize = 1000
)

// Payloads buffers payload events and writes deduplicated batches once the
// oldest pending event is older than the window, or the buffer is full.
type Payloads struct {
	dedup   *dedup.Deduplicator
	out     output.Output
	runID   string
	window  time.Duration
	maxSize int // 0 means unlimited
	now     func() time.Time

	mu      sync.Mutex
	pending []model.Event
}

// Option configures a Payloads tap.
type Option func(*Payloads)

// WithWindow sets the dedup window. Default: 3s.
func WithWindow(d time.Duration) Option {
	return func(p *Payloads) { p.window = d }
}

// WithMaxSize flushes once this many events are pending. Default: 1000.
func WithMaxSize(n int) Option {
	return func(p *Payloads) { p.maxSize = n }
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(p *Payloads) { p.now = now }
}

// NewPayloads creates a payload tap writing to out.
func NewPayloads(out output.Output, runID string, opts ...Option) *Payloads {
	p := &Payloads{
		out:     out,
		runID:   runID,
		window:  DefaultWindow,
		maxSize: DefaultMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.dedup = dedup.New(dedup.Config{Window: p.window})
	return p
}

// Record queues one sanitized payload. Empty payloads are skipped.
func (p *Payloads) Record(text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	p.pending = append(p.pending, model.Event{
		Kind:      model.EventPayload,
		RunID:     p.runID,
		Timestamp: p.now(),
		Message:   text,
	})
	full := p.maxSize > 0 && len(p.pending) >= p.maxSize
	p.mu.Unlock()
	if full {
		p.flush()
	}
}

// FlushDue writes the pending batch when its first event is older than the
// window.
func (p *Payloads) FlushDue(now time.Time) {
	p.mu.Lock()
	due := len(p.pending) > 0 && now.Sub(p.pending[0].Timestamp) >= p.window
	p.mu.Unlock()
	if due {
		p.flush()
	}
}

// Pending returns the number of buffered events.
func (p *Payloads) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Payloads) flush() {
	p.mu.Lock()
	events := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, e := range p.dedup.Collapse(events) {
		if err := p.out.Write(context.Background(), e); err != nil {
			slog.Warn("payload tap write failed", "error", err)
			return
		}
	}
}

// Close writes everything pending and closes the output.
func (p *Payloads) Close() error {
	p.flush()
	return p.out.Close()
}

// Wire writes every raw line as-is.
type Wire struct {
	out   output.Output
	runID string
}

// NewWire creates a raw line tap writing to out.
func NewWire(out output.Output, runID string) *Wire {
	return &Wire{out: out, runID: runID}
}

// RecordLine writes one raw line.
func (w *Wire) RecordLine(l model.RawLine) {
	e := model.Event{Kind: model.EventWire, RunID: w.runID, Timestamp: l.Timestamp, Message: l.Raw}
	if err := w.out.Write(context.Background(), e); err != nil {
		slog.Warn("wire tap write failed", "error", err)
	}
}

// Close closes the output.
func (w *Wire) Close() error { return w.out.Close() }
