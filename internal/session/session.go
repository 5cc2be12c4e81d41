// Package session drives one verification run: connect, settle, feed the
// buffered lines, then dispatch live lines until every step has finished or
// the run is stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/tre/internal/action"
	"github.com/crimson-sun/tre/internal/connector"
	"github.com/crimson-sun/tre/internal/engine"
	"github.com/crimson-sun/tre/internal/engine/steps"
	"github.com/crimson-sun/tre/internal/model"
)

// Reasons passed to the machine when a run ends.
const (
	ReasonEnded        = "ended"
	ReasonStopped      = "stopped"
	ReasonDisconnected = "disconnected"
)

// WireRecorder receives every raw line as read from the source.
type WireRecorder interface {
	RecordLine(l model.RawLine)
}

// dueFlusher is implemented by recorders that batch output between ticks.
type dueFlusher interface {
	FlushDue(now time.Time)
}

// Summary describes a finished run.
type Summary struct {
	RunID   string             `json:"run_id"`
	Reason  string             `json:"reason"`
	Started time.Time          `json:"started"`
	Ended   time.Time          `json:"ended"`
	Results []model.StepUpdate `json:"results"`
}

// Passed reports whether every step passed.
func (s Summary) Passed() bool {
	if len(s.Results) == 0 {
		return false
	}
	for _, r := range s.Results {
		if r.Result != model.Pass {
			return false
		}
	}
	return true
}

// Counts returns the number of passed, failed and errored steps.
func (s Summary) Counts() (pass, fail, errored int) {
	for _, r := range s.Results {
		switch r.Result {
		case model.Pass:
			pass++
		case model.Fail:
			fail++
		default:
			errored++
		}
	}
	return pass, fail, errored
}

// State is a point-in-time view of a run, safe to read from any goroutine.
type State struct {
	RunID   string            `json:"run_id"`
	Running bool              `json:"running"`
	Paused  bool              `json:"paused"`
	Current int               `json:"current"` // 1-based, 0 when done
	Steps   []steps.StepState `json:"steps"`
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTap records every sanitized payload.
func WithTap(r engine.Recorder) Option {
	return func(s *Supervisor) { s.tap = r }
}

// WithWire records every raw line.
func WithWire(w WireRecorder) Option {
	return func(s *Supervisor) { s.wire = w }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(s *Supervisor) { s.runID = id }
}

// WithClock sets the time source of the step machine.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// Supervisor owns the state machine of a single run. Run must be called
// once; Pause, Resume, Stop and Snapshot may be called from any goroutine.
type Supervisor struct {
	cfg   Config
	steps []model.Step
	obs   model.Observer
	exec  action.Executor
	tap   engine.Recorder
	wire  WireRecorder
	runID string
	now   func() time.Time

	machine *steps.Machine
	engine  *engine.Engine
	ring    *Ring
	prefeed []model.RawLine

	paused  atomic.Bool
	running atomic.Bool
	stopped atomic.Bool
	stream  atomic.Pointer[connector.Stream]
	state   atomic.Pointer[State]

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a supervisor for steps. obs and exec may be nil.
func New(cfg Config, stepList []model.Step, obs model.Observer, exec action.Executor, opts ...Option) *Supervisor {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if exec == nil {
		exec = action.Unavailable{}
	}
	s := &Supervisor{
		cfg:   cfg,
		steps: stepList,
		obs:   obs,
		exec:  exec,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	if s.obs == nil {
		s.obs = model.NopObserver{}
	}
	mopts := append(cfg.machineOptions(), steps.WithClock(s.now))
	s.machine = steps.New(stepList, s.obs, mopts...)
	s.engine = engine.New(s.machine, s.tap)
	s.ring = NewRing(cfg.RingSize)
	s.publish()
	return s
}

// RunID returns the identifier of this run.
func (s *Supervisor) RunID() string { return s.runID }

// Steps returns the observer view of every step.
func (s *Supervisor) Steps() []model.StepInfo { return s.machine.Steps() }

// Run executes the session. It returns a *connector.ConnectError when the
// source cannot be reached, in which case no step is started. A run that
// ends because the source went away and could not be re-established
// returns its summary together with connector.ErrStreamClosed.
func (s *Supervisor) Run(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.stopped.Load() {
		cancel()
	}

	sum := Summary{RunID: s.runID, Started: s.now()}
	stream, err := s.connect(ctx)
	if err != nil {
		s.status("Failed to connect.")
		sum.Ended = s.now()
		return sum, fmt.Errorf("session: %w", err)
	}
	s.running.Store(true)
	s.status("Connected.")
	s.machine.Start()
	s.publish()

	s.settle(ctx, stream)
	pre := s.ring.Drain()
	s.status(fmt.Sprintf("Feeding %d buffered lines…", len(pre)))
	s.engine.ProcessBatch(pre)
	s.status("Live matching started.")

	reason, runErr := s.loop(ctx, stream)

	s.machine.Finalize(reason)
	if st := s.stream.Load(); st != nil {
		if err := st.Close(); err != nil {
			slog.Warn("closing source", "error", err)
		}
	}
	s.running.Store(false)
	s.publish()
	s.status("Stopped.")

	sum.Reason = reason
	sum.Ended = s.now()
	sum.Results = s.machine.Results()
	return sum, runErr
}

// Pause stops dispatching lines. Lines keep being buffered and step timers
// are frozen until Resume.
func (s *Supervisor) Pause() { s.paused.Store(true) }

// Resume dispatches the lines buffered while paused and continues.
func (s *Supervisor) Resume() { s.paused.Store(false) }

// Stop ends the run immediately. Unfinished steps are finalized.
func (s *Supervisor) Stop() {
	s.stopped.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if st := s.stream.Load(); st != nil {
		st.Close()
	}
}

// Snapshot returns the state published at the end of the last tick.
func (s *Supervisor) Snapshot() State {
	st := *s.state.Load()
	st.Paused = s.paused.Load()
	return st
}

func (s *Supervisor) connect(ctx context.Context) (*connector.Stream, error) {
	if s.cfg.Connector == nil {
		return nil, &connector.ConnectError{Err: errors.New("no connector configured")}
	}
	src := s.cfg.Source
	src.Notify = s.status
	stream, err := s.cfg.Connector.Stream(ctx, src)
	if err != nil {
		return nil, err
	}
	s.stream.Store(stream)
	return stream, nil
}

func (s *Supervisor) settle(ctx context.Context, stream *connector.Stream) {
	if s.cfg.Offline || s.cfg.Settle <= 0 {
		return
	}
	s.status(fmt.Sprintf("Settling for %.1fs to capture boot logs…", s.cfg.Settle.Seconds()))
	deadline := time.Now().Add(s.cfg.Settle)
	for ctx.Err() == nil {
		wait := time.Until(deadline)
		if wait <= 0 {
			return
		}
		lines, open := stream.Read(min(wait, s.cfg.Tick))
		s.recordWire(lines)
		s.ring.Push(lines...)
		if !open {
			return
		}
	}
}

func (s *Supervisor) loop(ctx context.Context, stream *connector.Stream) (string, error) {
	disconnects := 0
	wasPaused := false
	for {
		if ctx.Err() != nil {
			return ReasonStopped, nil
		}

		paused := s.paused.Load()
		if paused != wasPaused {
			wasPaused = paused
			if paused {
				s.machine.Pause()
				s.status("Paused.")
			} else {
				s.machine.Resume()
				s.status("Resumed.")
				if n := s.ring.Dropped(); n > 0 {
					slog.Warn("pause buffer overflowed", "dropped", n)
				}
				s.engine.ProcessBatch(s.ring.Drain())
			}
		}
		if !paused && len(s.prefeed) > 0 {
			pre := s.prefeed
			s.prefeed = nil
			s.engine.ProcessBatch(pre)
		}

		lines, open := stream.Read(s.cfg.Tick)
		s.recordWire(lines)
		if paused {
			s.ring.Push(lines...)
		} else {
			s.engine.ProcessBatch(lines)
		}

		if !open {
			if ctx.Err() != nil {
				return ReasonStopped, nil
			}
			if err := stream.Err(); err != nil {
				slog.Warn("source read failed", "error", err)
			}
			if s.cfg.Offline {
				s.drainOffline(ctx, stream)
				return ReasonEnded, nil
			}
			if !s.cfg.Reconnect || disconnects >= s.cfg.ReconnectMax {
				s.status("Disconnected.")
				return ReasonDisconnected, fmt.Errorf("session: %w", connector.ErrStreamClosed)
			}
			disconnects++
			s.status(fmt.Sprintf("Disconnected; reconnecting (%d/%d)…", disconnects, s.cfg.ReconnectMax))
			if err := connector.Sleep(ctx, s.cfg.ReconnectDelay); err != nil {
				return ReasonStopped, nil
			}
			next, err := s.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ReasonStopped, nil
				}
				slog.Warn("reconnect failed", "error", err)
				return ReasonDisconnected, fmt.Errorf("session: %w (reconnect: %v)", connector.ErrStreamClosed, err)
			}
			stream = next
			s.status("Reconnected.")
			continue
		}

		s.tick(ctx, stream)
		if s.machine.Done() {
			return ReasonEnded, nil
		}
	}
}

// drainOffline keeps ticking after the end of a finite source until no
// step can make further progress.
func (s *Supervisor) drainOffline(ctx context.Context, stream *connector.Stream) {
	for ctx.Err() == nil && !s.machine.Done() {
		if len(s.prefeed) > 0 {
			pre := s.prefeed
			s.prefeed = nil
			s.engine.ProcessBatch(pre)
		}
		before := s.machine.Current()
		s.tick(ctx, stream)
		if s.machine.Current() == before && len(s.prefeed) == 0 {
			return
		}
	}
}

func (s *Supervisor) tick(ctx context.Context, stream *connector.Stream) {
	if !s.cfg.Offline {
		s.machine.CheckTimeouts()
	}
	s.runPendingActions(ctx, stream)
	s.machine.CatchUp()
	s.flushTap(time.Now())
	s.publish()
}

func (s *Supervisor) runPendingActions(ctx context.Context, stream *connector.Stream) {
	for ctx.Err() == nil && !s.paused.Load() {
		i, a, ok := s.machine.PendingAction()
		if !ok {
			return
		}
		done, msg := s.perform(ctx, stream, a)
		slog.Debug("action performed", "step", i+1, "type", a.Type, "ok", done, "msg", msg)
		s.machine.CompleteAction(i, done, msg)
	}
}

func (s *Supervisor) perform(ctx context.Context, stream *connector.Stream, a model.Action) (bool, string) {
	switch a.Type {
	case model.ActionWait:
		if !s.cfg.Offline {
			s.collect(ctx, stream, time.Duration(a.MS)*time.Millisecond)
		}
		return true, fmt.Sprintf("wait %dms", a.MS)
	case model.ActionWaitCapture:
		var captured []model.RawLine
		if !s.cfg.Offline {
			captured = s.collect(ctx, stream, time.Duration(a.MS)*time.Millisecond)
		}
		s.prefeed = append(captured, s.prefeed...)
		return true, fmt.Sprintf("wait_capture %dms (%d lines)", a.MS, len(captured))
	default:
		return s.exec.Perform(ctx, a)
	}
}

// collect reads lines for d without dispatching them.
func (s *Supervisor) collect(ctx context.Context, stream *connector.Stream, d time.Duration) []model.RawLine {
	var out []model.RawLine
	deadline := time.Now().Add(d)
	for ctx.Err() == nil {
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		lines, open := stream.Read(min(wait, s.cfg.Tick))
		s.recordWire(lines)
		out = append(out, lines...)
		if !open {
			break
		}
	}
	return out
}

func (s *Supervisor) recordWire(lines []model.RawLine) {
	if s.wire == nil {
		return
	}
	for _, l := range lines {
		s.wire.RecordLine(l)
	}
}

func (s *Supervisor) flushTap(now time.Time) {
	if f, ok := s.tap.(dueFlusher); ok {
		f.FlushDue(now)
	}
}

func (s *Supervisor) publish() {
	st := &State{
		RunID:   s.runID,
		Running: s.running.Load(),
		Current: s.machine.Current() + 1,
		Steps:   s.machine.Snapshot(),
	}
	s.state.Store(st)
}

func (s *Supervisor) status(msg string) {
	slog.Info(msg, "run", s.runID)
	s.obs.OnStatus(msg)
}
