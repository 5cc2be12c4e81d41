// Package console renders run progress as colored, human-readable lines.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/output"
)

var (
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	purple = lipgloss.Color("99")
	dim    = lipgloss.Color("243")
)

// Output writes status lines and step results to a terminal.
type Output struct {
	mu        sync.Mutex
	w         io.Writer
	verbosity compactor.Verbosity

	pass, fail, warn, accent, muted, bold lipgloss.Style
}

// New creates a console output. With color false, or when w is not a
// terminal, plain text is written.
func New(w io.Writer, color bool, verbosity compactor.Verbosity) *Output {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Output{
		w:         w,
		verbosity: verbosity,
		pass:      r.NewStyle().Foreground(green),
		fail:      r.NewStyle().Foreground(red),
		warn:      r.NewStyle().Foreground(yellow),
		accent:    r.NewStyle().Foreground(purple),
		muted:     r.NewStyle().Foreground(dim),
		bold:      r.NewStyle().Bold(true),
	}
}

func (o *Output) Write(_ context.Context, event model.Event) error {
	var line string
	e := output.FormatEvent(event, o.verbosity)
	switch e.Kind {
	case model.EventStatus:
		line = o.accent.Render("●") + " " + o.muted.Render(e.Message)
	case model.EventStepsInit:
		line = o.stepList(e.Steps)
	case model.EventStepUpdate:
		if e.Update == nil {
			return nil
		}
		line = o.result(*e.Update)
	default:
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := fmt.Fprintln(o.w, line); err != nil {
		return fmt.Errorf("console output: %w", err)
	}
	return nil
}

func (o *Output) stepList(steps []model.StepInfo) string {
	var sb strings.Builder
	sb.WriteString(o.bold.Render(fmt.Sprintf("%d step(s)", len(steps))))
	for _, s := range steps {
		fmt.Fprintf(&sb, "\n  %2d. %s", s.Index, s.Name)
		if s.Description != "" {
			sb.WriteString("  " + o.muted.Render(s.Description))
		}
	}
	return sb.String()
}

func (o *Output) result(u model.StepUpdate) string {
	var mark string
	switch u.Result {
	case model.Pass:
		mark = o.pass.Render("✓ PASS ")
	case model.Fail:
		mark = o.fail.Render("✗ FAIL ")
	default:
		mark = o.warn.Render("! ERROR")
	}
	line := fmt.Sprintf("%s [%d] %s", mark, u.Index, u.Name)
	if u.Evidence != "" {
		line += "  " + o.muted.Render(u.Evidence)
	}
	return line
}

// Totals prints the closing summary line of a run.
func (o *Output) Totals(pass, fail, errored int, elapsed time.Duration) {
	parts := []string{o.pass.Render(fmt.Sprintf("%d passed", pass))}
	if fail > 0 {
		parts = append(parts, o.fail.Render(fmt.Sprintf("%d failed", fail)))
	}
	if errored > 0 {
		parts = append(parts, o.warn.Render(fmt.Sprintf("%d errored", errored)))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "%s %s\n", strings.Join(parts, ", "), o.muted.Render("in "+elapsed.Round(time.Millisecond).String()))
}

func (o *Output) Close() error { return nil }
