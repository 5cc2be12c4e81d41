// Package telemetry exports each verification run as an OpenTelemetry trace:
// one span per run, one span event per status message and step result.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/crimson-sun/tre/internal/model"
)

const (
	tracerName = "github.com/crimson-sun/tre"
	runSpan    = "tre.run"
)

// Provider owns the tracer provider used by a process.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider creates a Provider exporting to an OTLP/HTTP endpoint URL
// (e.g. "http://localhost:4318"). An empty endpoint yields a no-op tracer.
func NewProvider(ctx context.Context, endpoint string) (*Provider, error) {
	if endpoint == "" {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(tracerName)}, nil
	}
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	return &Provider{tp: tp, tracer: tp.Tracer(tracerName)}, nil
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}

// Output records run events on a span. The span starts with the first event
// and ends on Close.
type Output struct {
	tracer trace.Tracer

	mu       sync.Mutex
	span     trace.Span
	failures int
	steps    int
	closed   bool
}

// NewOutput creates an Output using tracer.
func NewOutput(tracer trace.Tracer) *Output {
	return &Output{tracer: tracer}
}

func (o *Output) Write(ctx context.Context, e model.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("telemetry: write after close")
	}
	if o.span == nil {
		_, o.span = o.tracer.Start(ctx, runSpan,
			trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(attribute.String("tre.run_id", e.RunID)),
		)
	}

	switch e.Kind {
	case model.EventStatus:
		o.span.AddEvent("status", trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(attribute.String("message", e.Message)))
	case model.EventStepsInit:
		o.steps = len(e.Steps)
		o.span.SetAttributes(attribute.Int("tre.steps", len(e.Steps)))
	case model.EventStepUpdate:
		if e.Update == nil {
			return nil
		}
		u := e.Update
		o.span.AddEvent("step", trace.WithTimestamp(e.Timestamp), trace.WithAttributes(
			attribute.Int("step.index", u.Index),
			attribute.String("step.name", u.Name),
			attribute.String("step.result", string(u.Result)),
			attribute.String("step.evidence", u.Evidence),
		))
		if u.Result != model.Pass {
			o.failures++
		}
	}
	return nil
}

// Close sets the span status from the step results and ends it.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.span == nil {
		return nil
	}
	if o.failures > 0 {
		o.span.SetStatus(codes.Error, fmt.Sprintf("%d of %d steps did not pass", o.failures, o.steps))
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.End()
	return nil
}
