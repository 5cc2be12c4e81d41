package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/crimson-sun/tre/internal/engine/matcher"
	"github.com/crimson-sun/tre/internal/model"
)

// ErrMalformed is matched by every *ValidationError.
var ErrMalformed = errors.New("malformed rule")

// Problem is one issue found in a rule file. Index is 1-based.
type Problem struct {
	Index   int
	Name    string
	Message string
}

func (p Problem) String() string {
	if p.Index == 0 {
		return p.Message
	}
	return fmt.Sprintf("Step %d ('%s'): %s", p.Index, p.Name, p.Message)
}

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return fmt.Sprintf("%s: %s", ErrMalformed, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrMalformed }

// Validate checks loaded steps: every step must be well formed and every
// regular expression must compile. Returns nil or a *ValidationError.
func Validate(steps []model.Step) error {
	var problems []Problem
	if len(steps) == 0 {
		problems = append(problems, Problem{Message: "rule file has no steps"})
	}
	for i, s := range steps {
		add := func(msg string) {
			problems = append(problems, Problem{Index: i + 1, Name: s.Name, Message: msg})
		}
		switch b := s.Body.(type) {
		case model.Invalid:
			add(b.Reason)
		case nil:
			add("missing one of find/not_find/sequence/action")
		case model.Find:
			checkPattern(b.Rule, "find", add)
		case model.NotFind:
			checkPattern(b.Rule, "not_find", add)
		case model.Sequence:
			for j, r := range b.Rules {
				checkPattern(r, fmt.Sprintf("seq[%d]", j+1), add)
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

func checkPattern(r model.Rule, field string, add func(string)) {
	if err := matcher.Compile(r).Err(); err != nil {
		add(fmt.Sprintf("%s: pattern %q does not compile: %v", field, r.Pattern, err))
	}
}
