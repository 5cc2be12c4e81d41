package tre

import (
	"time"

	"github.com/crimson-sun/tre/internal/action"
	"github.com/crimson-sun/tre/internal/session"
)

type options struct {
	observer       Observer
	executor       Executor
	settle         time.Duration
	tick           time.Duration
	historySize    int
	step1Timeout   time.Duration
	defaultTimeout time.Duration
	payloadOnly    bool
	reconnect      bool
}

// Option configures Check and Run.
type Option func(*options)

// WithObserver receives status messages and step results as they happen.
// Callbacks run on the session goroutine and must not block.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithExecutor performs tap, tap_pct and screenshot actions. Run defaults to
// adb on the PATH; Check passes every action without doing anything.
func WithExecutor(e Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithSettle sets how long Run buffers boot logs before matching starts.
// Default: 1s. Ignored by Check.
func WithSettle(d time.Duration) Option {
	return func(o *options) { o.settle = d }
}

// WithTick sets how often the stream is polled and timeouts are checked.
// Default: 200ms.
func WithTick(d time.Duration) Option {
	return func(o *options) { o.tick = d }
}

// WithHistorySize sets how many recent lines are kept for catch-up matching.
// Default: 5000.
func WithHistorySize(n int) Option {
	return func(o *options) { o.historySize = n }
}

// WithTimeouts sets the timeout of the first step and of every later step
// that declares none. 0 disables the default for later steps. Defaults: 120s
// and 0.
func WithTimeouts(step1, others time.Duration) Option {
	return func(o *options) {
		o.step1Timeout = step1
		o.defaultTimeout = others
	}
}

// WithPayloadOnly forces payload-only matching for every rule (default true).
// With false, each rule's own payload_only setting applies.
func WithPayloadOnly(force bool) Option {
	return func(o *options) { o.payloadOnly = force }
}

// WithReconnect controls whether Run re-establishes a dropped connection.
// Default: true.
func WithReconnect(on bool) Option {
	return func(o *options) { o.reconnect = on }
}

func defaultOptions() options {
	d := session.DefaultConfig()
	return options{
		settle:         d.Settle,
		tick:           d.Tick,
		historySize:    d.HistorySize,
		step1Timeout:   d.Step1Timeout,
		defaultTimeout: d.DefaultTimeout,
		payloadOnly:    d.ForcePayloadOnly,
		reconnect:      d.Reconnect,
	}
}

func (o options) sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Settle = o.settle
	cfg.Tick = o.tick
	cfg.HistorySize = o.historySize
	cfg.Step1Timeout = o.step1Timeout
	cfg.DefaultTimeout = o.defaultTimeout
	cfg.ForcePayloadOnly = o.payloadOnly
	cfg.Reconnect = o.reconnect
	return cfg
}

func (o options) exec(fallback action.Executor) action.Executor {
	if o.executor == nil {
		return fallback
	}
	return action.Func(o.executor.Perform)
}
