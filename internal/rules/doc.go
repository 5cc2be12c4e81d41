package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/tre/internal/model"
)

type stepDoc struct {
	Name           string     `json:"name" yaml:"name"`
	Find           *ruleDoc   `json:"find" yaml:"find"`
	NotFind        *ruleDoc   `json:"not_find" yaml:"not_find"`
	Sequence       *[]seqItem `json:"sequence" yaml:"sequence"`
	Action         *actionDoc `json:"action" yaml:"action"`
	Timeout        *float64   `json:"timeout" yaml:"timeout"`
	TimeoutSeconds *float64   `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type ruleDoc struct {
	Pattern     *string `json:"pattern" yaml:"pattern"`
	Literal     *bool   `json:"literal" yaml:"literal"`
	IgnoreCase  *bool   `json:"ignore_case" yaml:"ignore_case"`
	Equals      bool    `json:"equals" yaml:"equals"`
	PayloadOnly *bool   `json:"payload_only" yaml:"payload_only"`
	MinCount    *int    `json:"min_count" yaml:"min_count"`
	ECU         string  `json:"ecu" yaml:"ecu"`
	App         string  `json:"app" yaml:"app"`
	Ctx         string  `json:"ctx" yaml:"ctx"`
}

type actionDoc struct {
	Type string   `json:"type" yaml:"type"`
	MS   *int     `json:"ms" yaml:"ms"`
	X    *int     `json:"x" yaml:"x"`
	Y    *int     `json:"y" yaml:"y"`
	PX   *float64 `json:"px" yaml:"px"`
	PY   *float64 `json:"py" yaml:"py"`
	File string   `json:"file" yaml:"file"`
}

// seqItem is a sequence element: a bare string (a literal pattern) or a
// rule object.
type seqItem struct {
	text *string
	rule *ruleDoc
}

func (s *seqItem) UnmarshalJSON(b []byte) error {
	b = []byte(strings.TrimSpace(string(b)))
	if len(b) > 0 && b[0] == '"' {
		var t string
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}
		s.text = &t
		return nil
	}
	if len(b) > 0 && b[0] == '{' {
		var r ruleDoc
		if err := json.Unmarshal(b, &r); err != nil {
			return err
		}
		s.rule = &r
		return nil
	}
	return errors.New("sequence item must be a string or an object")
}

func (s *seqItem) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		t := n.Value
		s.text = &t
		return nil
	case yaml.MappingNode:
		var r ruleDoc
		if err := n.Decode(&r); err != nil {
			return err
		}
		s.rule = &r
		return nil
	default:
		return errors.New("sequence item must be a string or a mapping")
	}
}

// step converts the document to a model step. Problems turn the step into
// model.Invalid with every problem listed.
func (d stepDoc) step(i int) model.Step {
	s := model.Step{Name: defaultName(d.Name, i)}
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	var modes []string
	if d.Find != nil {
		modes = append(modes, "find")
	}
	if d.NotFind != nil {
		modes = append(modes, "not_find")
	}
	if d.Sequence != nil {
		modes = append(modes, "sequence")
	}
	if d.Action != nil {
		modes = append(modes, "action")
	}
	switch {
	case len(modes) == 0:
		bad("missing one of find/not_find/sequence/action")
	case len(modes) > 1:
		bad("multiple modes present (%s)", strings.Join(modes, ", "))
	}

	if len(modes) == 1 {
		switch modes[0] {
		case "find":
			r, err := d.Find.rule("find")
			if err != nil {
				bad("%v", err)
			}
			s.Body = model.Find{Rule: r}
		case "not_find":
			r, err := d.NotFind.rule("not_find")
			if err != nil {
				bad("%v", err)
			}
			s.Body = model.NotFind{Rule: r}
		case "sequence":
			seq, errs := sequence(*d.Sequence)
			for _, err := range errs {
				bad("%v", err)
			}
			s.Body = seq
		case "action":
			a, err := d.Action.action()
			if err != nil {
				bad("%v", err)
			}
			s.Body = a
		}
	}

	timeout := d.Timeout
	if timeout == nil {
		timeout = d.TimeoutSeconds
	}
	if timeout != nil {
		if *timeout < 0 {
			bad("timeout must not be negative")
		}
		s.Timeout = time.Duration(*timeout * float64(time.Second))
		s.HasTimeout = true
	}

	if len(problems) > 0 {
		s.Body = model.Invalid{Reason: strings.Join(problems, "; ")}
	}
	return s
}

func (r *ruleDoc) rule(field string) (model.Rule, error) {
	if r.Pattern == nil || *r.Pattern == "" {
		return model.Rule{}, fmt.Errorf("%s must be an object with 'pattern'", field)
	}
	out := model.DefaultRule(*r.Pattern)
	if r.Literal != nil {
		out.Literal = *r.Literal
	}
	if r.IgnoreCase != nil {
		out.IgnoreCase = *r.IgnoreCase
	}
	if r.PayloadOnly != nil {
		out.PayloadOnly = *r.PayloadOnly
	}
	out.Equals = r.Equals
	out.ECU, out.App, out.Ctx = r.ECU, r.App, r.Ctx
	if r.MinCount != nil {
		if *r.MinCount < 1 {
			return out, fmt.Errorf("%s.min_count must be at least 1", field)
		}
		out.MinCount = *r.MinCount
	}
	return out, nil
}

func sequence(items []seqItem) (model.Sequence, []error) {
	var errs []error
	if len(items) == 0 {
		errs = append(errs, errors.New("sequence must not be empty"))
	}
	seq := model.Sequence{Rules: make([]model.Rule, 0, len(items))}
	for j, it := range items {
		field := fmt.Sprintf("seq[%d]", j+1)
		switch {
		case it.text != nil:
			if *it.text == "" {
				errs = append(errs, fmt.Errorf("%s: empty pattern", field))
				continue
			}
			r := model.DefaultRule(*it.text)
			r.Literal = true
			seq.Rules = append(seq.Rules, r)
		case it.rule != nil:
			if it.rule.Pattern == nil || *it.rule.Pattern == "" {
				errs = append(errs, fmt.Errorf("%s: dict needs 'pattern'", field))
				continue
			}
			r, err := it.rule.rule(field)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			seq.Rules = append(seq.Rules, r)
		default:
			errs = append(errs, fmt.Errorf("%s: must be string or dict", field))
		}
	}
	return seq, errs
}

func (a *actionDoc) action() (model.Action, error) {
	out := model.Action{Type: model.ActionType(a.Type), File: a.File}
	switch out.Type {
	case model.ActionWait, model.ActionWaitCapture:
		if a.MS != nil {
			if *a.MS < 0 {
				return out, fmt.Errorf("%s.ms must not be negative", a.Type)
			}
			out.MS = *a.MS
		}
	case model.ActionTap:
		if a.X == nil || a.Y == nil || *a.X < 0 || *a.Y < 0 {
			return out, errors.New("tap needs x/y >= 0")
		}
		out.X, out.Y = *a.X, *a.Y
	case model.ActionTapPct:
		if a.PX == nil || a.PY == nil || *a.PX < 0 || *a.PX > 1 || *a.PY < 0 || *a.PY > 1 {
			return out, errors.New("tap_pct needs px/py in [0..1]")
		}
		out.PX, out.PY = *a.PX, *a.PY
	case model.ActionScreenshot:
	case "":
		return out, errors.New("action needs a type")
	default:
		return out, fmt.Errorf("unknown action type %q", a.Type)
	}
	return out, nil
}
