package multi

import (
	"context"
	"errors"

	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/output"
)

// Multi fans out events to multiple output.Output implementations.
// Each Write call delivers the event to every wrapped output sequentially.
// If one output fails, the remaining outputs still receive the event.
type Multi struct {
	outputs []output.Output
}

// New creates a Multi that fans out to the given outputs. Nil outputs are
// skipped.
func New(outputs ...output.Output) *Multi {
	m := &Multi{}
	for _, o := range outputs {
		if o != nil {
			m.outputs = append(m.outputs, o)
		}
	}
	return m
}

// Len returns the number of wrapped outputs.
func (m *Multi) Len() int { return len(m.outputs) }

// Write delivers the event to every wrapped output. Errors are collected
// but do not prevent delivery to subsequent outputs.
func (m *Multi) Write(ctx context.Context, event model.Event) error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on every wrapped output, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filtered passes only events of the listed kinds to its inner output.
type Filtered struct {
	inner output.Output
	kinds map[model.EventKind]bool
}

// Only wraps o so it receives just the given event kinds.
func Only(o output.Output, kinds ...model.EventKind) *Filtered {
	f := &Filtered{inner: o, kinds: make(map[model.EventKind]bool, len(kinds))}
	for _, k := range kinds {
		f.kinds[k] = true
	}
	return f
}

func (f *Filtered) Write(ctx context.Context, event model.Event) error {
	if !f.kinds[event.Kind] {
		return nil
	}
	return f.inner.Write(ctx, event)
}

func (f *Filtered) Close() error { return f.inner.Close() }
