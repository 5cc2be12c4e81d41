package tre

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/crimson-sun/tre/internal/action"
	"github.com/crimson-sun/tre/internal/connector"
	"github.com/crimson-sun/tre/internal/connector/tcp"
	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/rules"
	"github.com/crimson-sun/tre/internal/session"
)

// Step definitions. Build them with ParseRules/LoadRules or directly:
//
//	tre.Step{Name: "boot", Body: tre.Find{Rule: tre.DefaultRule("BOOT_COMPLETED")}}
type (
	Step     = model.Step
	Rule     = model.Rule
	Find     = model.Find
	NotFind  = model.NotFind
	Sequence = model.Sequence
	Action   = model.Action
)

// Observer callbacks and their payloads.
type (
	Observer   = model.Observer
	StepInfo   = model.StepInfo
	StepUpdate = model.StepUpdate
)

// Outcome is the final state of a step: PASS, FAIL or ERROR.
type Outcome = model.Result

const (
	Pass  Outcome = model.Pass
	Fail  Outcome = model.Fail
	Error Outcome = model.Error
)

// ErrConnect is matched by errors from Run when the log source could not be
// reached.
var ErrConnect = connector.ErrConnect

// Executor performs device actions (tap, tap_pct, screenshot).
type Executor interface {
	Perform(ctx context.Context, a Action) (ok bool, msg string)
}

// Result is the outcome of one step. Index is 1-based.
type Result struct {
	Index       int     `json:"index"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Outcome     Outcome `json:"outcome"`
	Evidence    string  `json:"evidence,omitempty"`
}

// Passed reports whether every result passed. An empty list did not pass.
func Passed(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Outcome != Pass {
			return false
		}
	}
	return true
}

// DefaultRule returns a rule for pattern with default flags: regular
// expression, case-insensitive, payload only, one match.
func DefaultRule(pattern string) Rule { return model.DefaultRule(pattern) }

// ParseRules decodes a rule document, JSON (comments allowed) or YAML.
// Malformed steps are kept and finish as ERROR; use ValidateRules to reject
// them up front.
func ParseRules(data []byte, yaml bool) ([]Step, error) {
	f := rules.JSON
	if yaml {
		f = rules.YAML
	}
	steps, err := rules.Parse(data, f)
	if err != nil {
		return nil, fmt.Errorf("tre: %w", err)
	}
	return steps, nil
}

// LoadRules reads a rule file; the format follows the extension.
func LoadRules(path string) ([]Step, error) {
	steps, err := rules.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tre: %w", err)
	}
	return steps, nil
}

// ValidateRules reports every malformed step and every regular expression
// that does not compile.
func ValidateRules(steps []Step) error {
	return rules.Validate(steps)
}

// Check evaluates steps over lines already in memory. Waits complete
// immediately and timeouts are not enforced; steps still pending when the
// lines run out fail.
func Check(lines []string, steps []Step, opts ...Option) ([]Result, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.sessionConfig()
	cfg.Offline = true
	cfg.Settle = 0
	cfg.Reconnect = false
	cfg.Connector = memory(lines)

	sup := session.New(cfg, steps, o.observer, o.exec(action.Skipped{}))
	sum, err := sup.Run(context.Background())
	if err != nil {
		return nil, fmt.Errorf("tre: %w", err)
	}
	return results(sum), nil
}

// Run connects to host:port, loads the rule file at rulesPath and verifies
// the stream until every step has finished or ctx is cancelled. Results are
// returned even when the connection dropped mid-run; the error then reports
// why.
func Run(ctx context.Context, host string, port int, rulesPath string, opts ...Option) ([]Result, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	steps, err := LoadRules(rulesPath)
	if err != nil {
		return nil, err
	}
	cfg := o.sessionConfig()
	cfg.Connector = tcp.New()
	cfg.Source = connector.Config{
		Provider:       "tcp",
		Address:        net.JoinHostPort(host, strconv.Itoa(port)),
		ConnectTimeout: connector.DefaultConnectTimeout,
		Attempts:       connector.DefaultAttempts,
		Backoff:        connector.DefaultBackoff,
	}

	exec := o.exec(action.NewADB(action.DefaultADB, "screenshots"))
	sup := session.New(cfg, steps, o.observer, exec)
	sum, err := sup.Run(ctx)
	if err != nil {
		return results(sum), fmt.Errorf("tre: %w", err)
	}
	return results(sum), nil
}

func results(sum session.Summary) []Result {
	if len(sum.Results) == 0 {
		return nil
	}
	out := make([]Result, len(sum.Results))
	for i, u := range sum.Results {
		out[i] = Result{
			Index:       u.Index,
			Name:        u.Name,
			Description: u.Description,
			Outcome:     u.Result,
			Evidence:    u.Evidence,
		}
	}
	return out
}

// memory serves lines from memory as a finite stream.
type memory []string

func (m memory) Stream(ctx context.Context, _ connector.Config) (*connector.Stream, error) {
	var b strings.Builder
	for _, l := range m {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return connector.NewStream(ctx, "memory", io.NopCloser(strings.NewReader(b.String())), 0), nil
}
