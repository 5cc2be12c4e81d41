package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/tre/internal/control"
	"github.com/crimson-sun/tre/internal/session"
)

const defaultControlAddr = "127.0.0.1:7070"

// controlCmds returns status/pause/resume/stop, which drive a session
// started with "tre run --listen".
func controlCmds() []*cobra.Command {
	type call func(*control.Client, context.Context) (session.State, error)
	specs := []struct {
		use, short string
		fn         call
	}{
		{"status", "Show the steps of a running session", (*control.Client).State},
		{"pause", "Pause matching in a running session", (*control.Client).Pause},
		{"resume", "Resume a paused session", (*control.Client).Resume},
		{"stop", "Stop a running session", (*control.Client).Stop},
	}

	cmds := make([]*cobra.Command, 0, len(specs))
	for _, s := range specs {
		var addr string
		cmd := &cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				st, err := s.fn(control.NewClient(addr), ctx)
				if err != nil {
					return err
				}
				printState(cmd.OutOrStdout(), st)
				return nil
			},
		}
		cmd.Flags().StringVar(&addr, "addr", controlAddr(), "control API address")
		cmds = append(cmds, cmd)
	}
	return cmds
}

func controlAddr() string {
	if v := os.Getenv("TRE_LISTEN"); v != "" {
		return v
	}
	return defaultControlAddr
}

func printState(w io.Writer, st session.State) {
	state := "finished"
	switch {
	case st.Paused:
		state = "paused"
	case st.Running:
		state = "running"
	}
	fmt.Fprintf(w, "run %s: %s", st.RunID, state)
	if st.Current > 0 {
		fmt.Fprintf(w, ", step %d of %d", st.Current, len(st.Steps))
	}
	fmt.Fprintln(w)
	for _, s := range st.Steps {
		line := fmt.Sprintf("  %2d. %-8s %s", s.Index, s.Status, s.Name)
		if s.Evidence != "" {
			line += "  " + s.Evidence
		}
		fmt.Fprintln(w, line)
	}
}
