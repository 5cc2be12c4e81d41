package steps

import (
	"fmt"
	"strings"

	"github.com/crimson-sun/tre/internal/model"
)

// Describe returns the one-line summary of what a step checks.
func Describe(s model.Step) string {
	switch b := s.Body.(type) {
	case model.Find:
		return b.Rule.Pattern
	case model.NotFind:
		return "NOT " + b.Rule.Pattern
	case model.Sequence:
		pats := make([]string, len(b.Rules))
		for i, r := range b.Rules {
			pats[i] = r.Pattern
		}
		return strings.Join(pats, " | ")
	case model.Action:
		return describeAction(b)
	case model.Invalid:
		return "invalid: " + b.Reason
	default:
		return ""
	}
}

func describeAction(a model.Action) string {
	switch a.Type {
	case model.ActionScreenshot:
		if a.File != "" {
			return "[screenshot] → " + a.File
		}
		return "[screenshot]"
	case model.ActionWait, model.ActionWaitCapture:
		return fmt.Sprintf("[%s %dms]", a.Type, a.MS)
	default:
		return "[" + string(a.Type) + "]"
	}
}
