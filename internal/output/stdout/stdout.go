package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/output"
)

// Output writes JSON-encoded events, one per line unless pretty.
type Output struct {
	mu        sync.Mutex
	enc       *json.Encoder
	verbosity compactor.Verbosity
}

// New creates an Output writing to os.Stdout.
func New(verbosity compactor.Verbosity, pretty bool) *Output {
	return NewWriter(os.Stdout, verbosity, pretty)
}

// NewWriter creates an Output writing to w.
func NewWriter(w io.Writer, verbosity compactor.Verbosity, pretty bool) *Output {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Output{enc: enc, verbosity: verbosity}
}

func (o *Output) Write(_ context.Context, event model.Event) error {
	formatted := output.FormatEvent(event, o.verbosity)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(formatted); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}
