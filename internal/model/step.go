package model

import "time"

// Step is one entry of a rule file. Body holds exactly one of Find, NotFind,
// Sequence, Action or Invalid.
type Step struct {
	Name       string
	Body       Body
	Timeout    time.Duration
	HasTimeout bool // Timeout was given explicitly, even as 0
}

// Body is the closed set of step kinds.
type Body interface {
	kind() Kind
}

// Kind names a step body type.
type Kind string

const (
	KindFind     Kind = "find"
	KindNotFind  Kind = "not_find"
	KindSequence Kind = "sequence"
	KindAction   Kind = "action"
	KindInvalid  Kind = "invalid"
)

// KindOf returns the kind of a step body. A nil body is invalid.
func KindOf(b Body) Kind {
	if b == nil {
		return KindInvalid
	}
	return b.kind()
}

// Rule is a single text pattern with its matching flags.
type Rule struct {
	Pattern     string
	Literal     bool
	IgnoreCase  bool
	Equals      bool
	PayloadOnly bool
	MinCount    int

	// Optional constraints on the ECU::APP::CTX line header.
	ECU string
	App string
	Ctx string
}

// DefaultRule returns a rule with the defaults applied to omitted fields.
func DefaultRule(pattern string) Rule {
	return Rule{
		Pattern:     pattern,
		IgnoreCase:  true,
		PayloadOnly: true,
		MinCount:    1,
	}
}

// Find passes once MinCount matching lines have been seen.
type Find struct{ Rule Rule }

// NotFind fails on the first matching line and passes on timeout or at stop.
type NotFind struct{ Rule Rule }

// Sequence passes once every rule has matched, in order.
type Sequence struct{ Rules []Rule }

// Invalid stands in for a step whose definition could not be understood.
type Invalid struct{ Reason string }

func (Find) kind() Kind     { return KindFind }
func (NotFind) kind() Kind  { return KindNotFind }
func (Sequence) kind() Kind { return KindSequence }
func (Action) kind() Kind   { return KindAction }
func (Invalid) kind() Kind  { return KindInvalid }

// ActionType is the verb of an action step.
type ActionType string

const (
	ActionWait        ActionType = "wait"
	ActionWaitCapture ActionType = "wait_capture"
	ActionTap         ActionType = "tap"
	ActionTapPct      ActionType = "tap_pct"
	ActionScreenshot  ActionType = "screenshot"
)

// Action is a side effect performed when the step becomes current.
type Action struct {
	Type ActionType
	MS   int     // wait, wait_capture
	X, Y int     // tap
	PX   float64 // tap_pct, 0..1
	PY   float64
	File string // screenshot
}

// Result is the terminal outcome of a step.
type Result string

const (
	Pass  Result = "PASS"
	Fail  Result = "FAIL"
	Error Result = "ERROR"
)
