package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/crimson-sun/tre/internal/config"
	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/output"
	"github.com/crimson-sun/tre/internal/output/async"
	"github.com/crimson-sun/tre/internal/output/console"
	"github.com/crimson-sun/tre/internal/output/file"
	"github.com/crimson-sun/tre/internal/output/multi"
	"github.com/crimson-sun/tre/internal/output/sqlite"
	"github.com/crimson-sun/tre/internal/output/stdout"
	"github.com/crimson-sun/tre/internal/output/webhook"
	"github.com/crimson-sun/tre/internal/tap"
	"github.com/crimson-sun/tre/internal/telemetry"
)

// sinks holds every destination of one run.
type sinks struct {
	observer model.Observer
	events   *async.Async
	console  *console.Output
	payloads *tap.Payloads
	wire     *tap.Wire
	provider *telemetry.Provider
}

// buildSinks opens the outputs selected by cfg. Progress events reach them
// through a single drop-on-full async queue so observer callbacks never block
// the session. The step list and step results are never dropped.
func buildSinks(ctx context.Context, cfg config.Config, runID string, w io.Writer) (*sinks, error) {
	verbosity, err := compactor.ParseVerbosity(cfg.Output.Verbosity)
	if err != nil {
		return nil, err
	}
	s := &sinks{}
	var outs []output.Output
	fail := func(err error) (*sinks, error) {
		for _, o := range outs {
			o.Close()
		}
		s.closeTaps()
		return nil, err
	}

	switch cfg.Output.Format {
	case config.FormatNDJSON:
		outs = append(outs, stdout.NewWriter(w, verbosity, cfg.Output.Pretty))
	default:
		s.console = console.New(w, cfg.Output.Color, verbosity)
		outs = append(outs, s.console)
	}

	if cfg.Output.File != "" {
		opts := []file.Option{file.WithMaxSize(cfg.Output.FileMaxSize)}
		if cfg.Output.Compress {
			opts = append(opts, file.WithCompress())
		}
		f, err := file.New(cfg.Output.File, verbosity, opts...)
		if err != nil {
			return fail(err)
		}
		outs = append(outs, f)
	}

	if cfg.Output.Webhook != "" {
		outs = append(outs, webhook.New(cfg.Output.Webhook, webhook.WithVerbosity(verbosity)))
	}

	if cfg.Output.SQLite != "" {
		db, err := sqlite.Open(cfg.Output.SQLite)
		if err != nil {
			return fail(err)
		}
		outs = append(outs, multi.Only(db, model.EventStatus, model.EventStepsInit, model.EventStepUpdate))
	}

	if cfg.Telemetry.Endpoint != "" {
		p, err := telemetry.NewProvider(ctx, cfg.Telemetry.Endpoint)
		if err != nil {
			return fail(err)
		}
		s.provider = p
		outs = append(outs, telemetry.NewOutput(p.Tracer()))
	}

	if cfg.Output.Tap != "" {
		f, err := file.New(cfg.Output.Tap, compactor.Full, file.WithFormat(file.Text))
		if err != nil {
			return fail(err)
		}
		s.payloads = tap.NewPayloads(f, runID)
	}

	if cfg.Output.Wire != "" {
		opts := []file.Option{file.WithFormat(file.Text), file.WithMaxSize(cfg.Output.FileMaxSize)}
		if cfg.Output.Compress {
			opts = append(opts, file.WithCompress())
		}
		f, err := file.New(cfg.Output.Wire, compactor.Full, opts...)
		if err != nil {
			return fail(err)
		}
		s.wire = tap.NewWire(f, runID)
	}

	s.events = async.New(multi.New(outs...),
		async.WithDropOnFull(),
		async.WithKeep(model.EventStepsInit, model.EventStepUpdate),
		async.WithOnError(func(err error) { slog.Warn("output write failed", "error", err) }),
	)
	s.observer = output.NewObserver(s.events, runID)
	return s, nil
}

func (s *sinks) closeTaps() error {
	var errs []error
	if s.payloads != nil {
		if err := s.payloads.Close(); err != nil {
			errs = append(errs, fmt.Errorf("payload tap: %w", err))
		}
	}
	if s.wire != nil {
		if err := s.wire.Close(); err != nil {
			errs = append(errs, fmt.Errorf("wire tap: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close drains queued events, closes every output, then flushes traces.
func (s *sinks) Close(ctx context.Context) error {
	errs := []error{s.closeTaps()}
	if s.events != nil {
		if n := s.events.Dropped(); n > 0 {
			slog.Warn("events dropped by a slow output", "count", n)
		}
		errs = append(errs, s.events.Close())
	}
	if s.provider != nil {
		errs = append(errs, s.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
