// Package steps implements the per-run step state machine.
//
// Steps are evaluated strictly in file order: only the current step sees
// incoming lines. When a step becomes current it is first checked against
// the retained line history, so a line that arrived before its step was
// reached still counts. Every step reaches a terminal state exactly once and
// the observer is told about it exactly once.
//
// A Machine is not safe for concurrent use; one worker owns it.
package steps

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/crimson-sun/tre/internal/engine/matcher"
	"github.com/crimson-sun/tre/internal/model"
)

const (
	DefaultStep1Timeout = 120 * time.Second
	DefaultHistorySize  = 5000
)

// Status is the lifecycle state of a step.
type Status string

const (
	Pending Status = "pending"
	Running Status = "running"
	Passed  Status = "passed"
	Failed  Status = "failed"
	Errored Status = "error"
)

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s == Passed || s == Failed || s == Errored
}

func statusOf(r model.Result) Status {
	switch r {
	case model.Pass:
		return Passed
	case model.Fail:
		return Failed
	default:
		return Errored
	}
}

// StepState is a point-in-time view of one step.
type StepState struct {
	model.StepInfo
	Status   Status       `json:"status"`
	Result   model.Result `json:"result,omitempty"`
	Evidence string       `json:"evidence,omitempty"`
	Matches  int          `json:"matches,omitempty"`
	Position int          `json:"position,omitempty"`
	Length   int          `json:"length,omitempty"`
}

type progress struct {
	status   Status
	count    int
	cursor   int
	start    time.Time
	scanned  bool
	skipSeq  uint64 // line that completed the previous step
	result   model.Result
	evidence string
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithHistorySize sets how many lines are kept for catch-up. Default: 5000.
func WithHistorySize(n int) Option {
	return func(m *Machine) { m.historySize = n }
}

// WithStep1Timeout sets the timeout of the first step when the rule file
// gives none. Default: 120s. 0 disables it.
func WithStep1Timeout(d time.Duration) Option {
	return func(m *Machine) { m.step1Timeout = d }
}

// WithDefaultTimeout sets the timeout of every other step without an
// explicit one. Default: 0 (none).
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Machine) { m.defaultTimeout = d }
}

// WithForcePayloadOnly overrides every rule to match against payload
// candidates. Default: true.
func WithForcePayloadOnly(force bool) Option {
	return func(m *Machine) { m.forcePayloadOnly = force }
}

// Machine tracks progress through an ordered list of steps.
type Machine struct {
	steps    []model.Step
	infos    []model.StepInfo
	matchers [][]*matcher.Compiled
	progress []progress
	cursor   int
	history  *History
	seq      uint64
	observer model.Observer
	now      func() time.Time

	historySize      int
	step1Timeout     time.Duration
	defaultTimeout   time.Duration
	forcePayloadOnly bool

	started    bool
	finalizing bool
	paused     bool
	pausedAt   time.Time
}

// New builds a machine for steps. Rules are compiled here, once.
func New(steps []model.Step, obs model.Observer, opts ...Option) *Machine {
	m := &Machine{
		steps:            steps,
		observer:         obs,
		now:              time.Now,
		historySize:      DefaultHistorySize,
		step1Timeout:     DefaultStep1Timeout,
		forcePayloadOnly: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.observer == nil {
		m.observer = model.NopObserver{}
	}
	m.history = NewHistory(m.historySize)
	m.infos = make([]model.StepInfo, len(steps))
	m.matchers = make([][]*matcher.Compiled, len(steps))
	m.progress = make([]progress, len(steps))
	for i, s := range steps {
		m.infos[i] = model.StepInfo{Index: i + 1, Name: s.Name, Description: Describe(s)}
		m.progress[i].status = Pending
		switch b := s.Body.(type) {
		case model.Find:
			m.matchers[i] = []*matcher.Compiled{m.compile(b.Rule)}
		case model.NotFind:
			m.matchers[i] = []*matcher.Compiled{m.compile(b.Rule)}
		case model.Sequence:
			for _, r := range b.Rules {
				m.matchers[i] = append(m.matchers[i], m.compile(r))
			}
		}
	}
	return m
}

func (m *Machine) compile(r model.Rule) *matcher.Compiled {
	if m.forcePayloadOnly {
		r.PayloadOnly = true
	}
	return matcher.Compile(r)
}

// Steps returns the observer view of every step.
func (m *Machine) Steps() []model.StepInfo {
	return append([]model.StepInfo(nil), m.infos...)
}

// Start announces the steps and makes the first one current.
func (m *Machine) Start() {
	if m.started {
		return
	}
	m.started = true
	m.observer.OnStepsInit(m.Steps())
	m.advance(0)
}

// Observe records a line in the history and evaluates it against the
// current step. pl is the line's sanitized payload.
func (m *Machine) Observe(raw, pl string) {
	m.seq++
	e := Entry{Seq: m.seq, Raw: raw, Payload: pl}
	m.history.Append(e)
	if !m.started || m.cursor >= len(m.steps) {
		return
	}
	if m.progress[m.cursor].status == Running {
		m.evaluate(m.cursor, e)
	}
}

// CatchUp scans the history for the current step if that has not happened
// since it became current.
func (m *Machine) CatchUp() {
	if m.cursor < len(m.steps) {
		m.catchUp(m.cursor)
	}
}

// CheckTimeouts finalizes the current step when its timeout has elapsed.
// Timers do not run while paused.
func (m *Machine) CheckTimeouts() {
	if m.paused || m.cursor >= len(m.steps) {
		return
	}
	i := m.cursor
	p := &m.progress[i]
	if p.status != Running {
		return
	}
	limit := m.timeoutFor(i)
	if limit <= 0 || m.now().Sub(p.start) < limit {
		return
	}
	secs := fmt.Sprintf("%gs", limit.Seconds())
	switch m.steps[i].Body.(type) {
	case model.NotFind:
		m.finalize(i, model.Pass, fmt.Sprintf("[timeout %s: pattern not seen]", secs), 0)
	case model.Action:
		m.finalize(i, model.Fail, fmt.Sprintf("[timeout %s on action]", secs), 0)
	default:
		m.finalize(i, model.Fail, fmt.Sprintf("[timeout %s]", secs), 0)
	}
}

func (m *Machine) timeoutFor(i int) time.Duration {
	s := m.steps[i]
	switch {
	case s.HasTimeout:
		return s.Timeout
	case i == 0:
		return m.step1Timeout
	default:
		return m.defaultTimeout
	}
}

// PendingAction returns the current step when it is an action waiting to be
// performed.
func (m *Machine) PendingAction() (int, model.Action, bool) {
	if m.paused || m.cursor >= len(m.steps) || m.progress[m.cursor].status != Running {
		return 0, model.Action{}, false
	}
	a, ok := m.steps[m.cursor].Body.(model.Action)
	return m.cursor, a, ok
}

// CompleteAction records the outcome of the action at index i.
func (m *Machine) CompleteAction(i int, ok bool, msg string) {
	if i != m.cursor || i >= len(m.steps) || m.progress[i].status != Running {
		return
	}
	if ok {
		m.finalize(i, model.Pass, msg, 0)
	} else {
		m.finalize(i, model.Fail, msg, 0)
	}
}

// Fault marks the current step as errored. Used when dispatch panics.
// If the current step already finished but the cursor never moved on, the
// run advances to the next step instead.
func (m *Machine) Fault(msg string) {
	if m.cursor >= len(m.steps) {
		return
	}
	switch st := m.progress[m.cursor].status; {
	case st == Running:
		m.finalize(m.cursor, model.Error, msg, 0)
	case st.Done() && !m.finalizing:
		m.advance(0)
	}
}

// Pause freezes the current step's timer.
func (m *Machine) Pause() {
	if m.paused {
		return
	}
	m.paused = true
	m.pausedAt = m.now()
}

// Resume restarts the timer, excluding the paused interval.
func (m *Machine) Resume() {
	if !m.paused {
		return
	}
	m.paused = false
	if m.cursor < len(m.steps) && m.progress[m.cursor].status == Running {
		p := &m.progress[m.cursor]
		p.start = p.start.Add(m.now().Sub(m.pausedAt))
	}
}

// Finalize settles every unfinished step at the end of a run. reason
// describes why the run ended.
func (m *Machine) Finalize(reason string) {
	m.finalizing = true
	for i := range m.steps {
		p := &m.progress[i]
		if p.status.Done() {
			continue
		}
		switch b := m.steps[i].Body.(type) {
		case model.NotFind:
			m.finalize(i, model.Pass, fmt.Sprintf("[%s: pattern not seen]", reason), 0)
		case model.Find:
			if p.count > 0 {
				m.finalize(i, model.Fail, fmt.Sprintf("[%s: pattern seen %d of %d times]", reason, p.count, minCount(b.Rule)), 0)
			} else {
				m.finalize(i, model.Fail, fmt.Sprintf("[%s: pattern never seen]", reason), 0)
			}
		case model.Sequence:
			if p.cursor > 0 {
				m.finalize(i, model.Fail, fmt.Sprintf("[%s: sequence stopped at %d of %d]", reason, p.cursor, len(b.Rules)), 0)
			} else {
				m.finalize(i, model.Fail, fmt.Sprintf("[%s: pattern never seen]", reason), 0)
			}
		case model.Action:
			m.finalize(i, model.Fail, fmt.Sprintf("[%s: action not executed]", reason), 0)
		case model.Invalid:
			m.finalize(i, model.Error, b.Reason, 0)
		default:
			m.finalize(i, model.Error, "step has no rule", 0)
		}
	}
	m.cursor = len(m.steps)
}

// Done reports whether every step has finished.
func (m *Machine) Done() bool { return m.cursor >= len(m.steps) }

// Current returns the 0-based index of the current step, or -1 when done.
func (m *Machine) Current() int {
	if m.Done() {
		return -1
	}
	return m.cursor
}

// Snapshot returns the state of every step.
func (m *Machine) Snapshot() []StepState {
	out := make([]StepState, len(m.steps))
	for i, p := range m.progress {
		st := StepState{
			StepInfo: m.infos[i],
			Status:   p.status,
			Result:   p.result,
			Evidence: p.evidence,
			Matches:  p.count,
		}
		if seq, ok := m.steps[i].Body.(model.Sequence); ok {
			st.Position = p.cursor
			st.Length = len(seq.Rules)
		}
		out[i] = st
	}
	return out
}

// Results returns the outcome of every finished step in order.
func (m *Machine) Results() []model.StepUpdate {
	var out []model.StepUpdate
	for i, p := range m.progress {
		if p.status.Done() {
			out = append(out, model.StepUpdate{StepInfo: m.infos[i], Result: p.result, Evidence: p.evidence})
		}
	}
	return out
}

func (m *Machine) evaluate(i int, e Entry) {
	p := &m.progress[i]
	switch b := m.steps[i].Body.(type) {
	case model.Find:
		if m.matchers[i][0].Match(e.Raw, e.Payload) {
			p.count++
			if p.count >= minCount(b.Rule) {
				m.finalize(i, model.Pass, e.Raw, e.Seq)
			}
		}
	case model.NotFind:
		if m.matchers[i][0].Match(e.Raw, e.Payload) {
			m.finalize(i, model.Fail, e.Raw, e.Seq)
		}
	case model.Sequence:
		ms := m.matchers[i]
		if p.cursor < len(ms) && ms[p.cursor].Match(e.Raw, e.Payload) {
			p.cursor++
			if p.cursor == len(ms) {
				m.finalize(i, model.Pass, e.Raw, e.Seq)
			}
		}
	}
}

func (m *Machine) catchUp(i int) {
	p := &m.progress[i]
	if p.scanned || p.status != Running {
		return
	}
	p.scanned = true
	switch m.steps[i].Body.(type) {
	case model.Find, model.NotFind, model.Sequence:
	default:
		return
	}
	m.history.Each(func(e Entry) bool {
		if e.Seq != p.skipSeq {
			m.evaluate(i, e)
		}
		return p.status == Running
	})
}

// finalize settles step i once and moves the cursor on. seq is the line
// that decided the outcome, 0 when none did.
func (m *Machine) finalize(i int, r model.Result, evidence string, seq uint64) {
	p := &m.progress[i]
	if p.status.Done() {
		return
	}
	p.status = statusOf(r)
	p.result = r
	p.evidence = evidence
	m.notify(model.StepUpdate{StepInfo: m.infos[i], Result: r, Evidence: evidence})
	if !m.finalizing && i == m.cursor {
		m.advance(seq)
	}
}

// notify delivers a step result. A panicking observer loses the update but
// never stalls the machine.
func (m *Machine) notify(u model.StepUpdate) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("step observer panicked", "step", u.Index, "panic", r)
		}
	}()
	m.observer.OnStepUpdate(u)
}

func (m *Machine) advance(skip uint64) {
	for m.cursor < len(m.steps) && m.progress[m.cursor].status.Done() {
		m.cursor++
	}
	if m.cursor >= len(m.steps) {
		return
	}
	m.activate(m.cursor, skip)
}

func (m *Machine) activate(i int, skip uint64) {
	p := &m.progress[i]
	if p.status != Pending {
		return
	}
	p.status = Running
	p.start = m.now()
	p.skipSeq = skip
	switch b := m.steps[i].Body.(type) {
	case model.Invalid:
		m.finalize(i, model.Error, b.Reason, 0)
	case model.Find, model.NotFind, model.Sequence:
		m.catchUp(i)
	case model.Action:
		// Performed by the session through PendingAction.
	default:
		m.finalize(i, model.Error, "step has no rule", 0)
	}
}

func minCount(r model.Rule) int {
	if r.MinCount < 1 {
		return 1
	}
	return r.MinCount
}
