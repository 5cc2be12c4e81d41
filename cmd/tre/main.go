package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Register connector implementations.
	_ "github.com/crimson-sun/tre/internal/connector/file"
	_ "github.com/crimson-sun/tre/internal/connector/tcp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitPass    = 0
	exitFail    = 1 // a step failed or errored, or the command could not run
	exitConnect = 2 // the log source could not be reached
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(exitCodeOf(newRootCmd().Execute()))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tre",
		Short:         "Verify a live log stream against an ordered list of expected events",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(runCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(controlCmds()...)
	return root
}

func exitCodeOf(err error) int {
	if err == nil {
		return exitPass
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return exitFail
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tre version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tre", version)
		},
	}
}
