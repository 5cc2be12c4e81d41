package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/output"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
	defaultRetryBackoff  = time.Second
	maxAttempts          = 4

	// RunHeader carries the run ID of the batch.
	RunHeader = "X-Tre-Run"
)

// Batch is the JSON body of one POST. Seq starts at 1 and increases per
// batch of a run; Final is set on the batch sent by Close.
type Batch struct {
	RunID  string        `json:"run_id"`
	Seq    int           `json:"seq"`
	Final  bool          `json:"final,omitempty"`
	Events []model.Event `json:"events"`
}

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets extra HTTP headers, e.g. an Authorization token.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithBatchSize sets how many events are held before a POST. Default: 50.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = n }
}

// WithFlushInterval bounds how long an event may wait. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.interval = d }
}

// WithTimeout sets the HTTP client timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.client.Timeout = d }
}

// WithRetryBackoff sets the first retry delay, doubled per retry. Default: 1s.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Output) { o.backoff = d }
}

// WithVerbosity trims events before sending. Default: Standard.
func WithVerbosity(v compactor.Verbosity) Option {
	return func(o *Output) { o.verbosity = v }
}

// WithOnError is called when a background (interval) send fails.
func WithOnError(f func(error)) Option {
	return func(o *Output) { o.onError = f }
}

// Output POSTs run events to an HTTP endpoint in Batch envelopes. A step
// result is sent right away together with everything queued before it.
type Output struct {
	client    *http.Client
	url       string
	headers   map[string]string
	batchSize int
	interval  time.Duration
	backoff   time.Duration
	verbosity compactor.Verbosity
	onError   func(error)

	mu      sync.Mutex
	runID   string
	seq     int
	queue   []model.Event
	timer   *time.Timer
	stopped bool
}

// New creates a webhook output targeting url.
func New(url string, opts ...Option) *Output {
	o := &Output{
		client:    &http.Client{Timeout: defaultTimeout},
		url:       url,
		batchSize: defaultBatchSize,
		interval:  defaultFlushInterval,
		backoff:   defaultRetryBackoff,
		verbosity: compactor.Standard,
		onError:   func(err error) { slog.Warn("webhook send failed", "error", err) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Output) Write(ctx context.Context, event model.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return fmt.Errorf("webhook: write after close")
	}
	if o.runID == "" {
		o.runID = event.RunID
	}
	o.queue = append(o.queue, output.FormatEvent(event, o.verbosity))

	if event.Kind == model.EventStepUpdate || len(o.queue) >= o.batchSize {
		return o.sendLocked(ctx, false)
	}
	if o.timer == nil {
		o.timer = time.AfterFunc(o.interval, o.sendDue)
	}
	return nil
}

func (o *Output) sendDue() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timer = nil
	if o.stopped {
		return
	}
	if err := o.sendLocked(context.Background(), false); err != nil {
		o.onError(err)
	}
}

// Close sends the final batch, even an empty one, unless nothing was ever
// sent for this run.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil
	}
	o.stopped = true
	if o.seq == 0 && len(o.queue) == 0 {
		return nil
	}
	return o.sendLocked(context.Background(), true)
}

// sendLocked posts the queued events. Caller holds o.mu.
func (o *Output) sendLocked(ctx context.Context, final bool) error {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if len(o.queue) == 0 && !final {
		return nil
	}
	o.seq++
	b := Batch{RunID: o.runID, Seq: o.seq, Final: final, Events: o.queue}
	if b.Events == nil {
		b.Events = []model.Event{}
	}
	o.queue = nil

	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("webhook: marshal batch %d: %w", b.Seq, err)
	}
	if err := o.post(ctx, body); err != nil {
		return fmt.Errorf("webhook: batch %d: %w", b.Seq, err)
	}
	return nil
}

// post retries on 429 (honoring Retry-After) and 5xx.
func (o *Output) post(ctx context.Context, body []byte) error {
	var wait time.Duration
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if o.runID != "" {
			req.Header.Set(RunHeader, o.runID)
		}
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			wait = retryAfter(resp.Header.Get("Retry-After"), o.backoff<<(attempt-1))
		case resp.StatusCode >= 500:
			wait = o.backoff << (attempt - 1)
		default:
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("HTTP %d after %d attempt(s)", resp.StatusCode, attempt)
	}
	return lastErr
}

func retryAfter(v string, fallback time.Duration) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
