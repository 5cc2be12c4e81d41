package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/tre/internal/engine/steps"
	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/rules"
)

func validateCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "validate RULES...",
		Short: "Check rule files and report every malformed step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			bad := 0
			for _, path := range args {
				stepList, err := rules.ReadFile(path)
				if err == nil {
					err = rules.Validate(stepList)
				}
				var verr *rules.ValidationError
				switch {
				case errors.As(err, &verr):
					bad++
					fmt.Fprintf(out, "%s: %d problem(s)\n", path, len(verr.Problems))
					for _, p := range verr.Problems {
						fmt.Fprintf(out, "  %s\n", p)
					}
				case err != nil:
					bad++
					fmt.Fprintf(out, "%s: %v\n", path, err)
				default:
					fmt.Fprintf(out, "%s: ok, %d step(s)\n", path, len(stepList))
					if !quiet {
						for i, s := range stepList {
							fmt.Fprintf(out, "  %2d. %-9s %s  %s\n", i+1, model.KindOf(s.Body), s.Name, steps.Describe(s))
						}
					}
				}
			}
			if bad > 0 {
				return &exitError{code: exitFail, err: fmt.Errorf("%d of %d rule file(s) invalid", bad, len(args))}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only report problems")
	return cmd
}
