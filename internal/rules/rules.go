// Package rules loads step definitions from rule files.
//
// Rule files are an ordered list of steps, authored as JSON (comments and
// trailing commas allowed) or YAML:
//
//	[
//	  // wait for the boot banner
//	  {"name": "boot", "find": {"pattern": "BOOT ***OK", "literal": true}, "timeout": 30},
//	  {"name": "no crash", "not_find": {"pattern": "panic"}, "timeout": 10},
//	  {"name": "handshake", "sequence": ["HELLO", {"pattern": "ACK \\d+"}]},
//	  {"name": "home", "action": {"type": "tap_pct", "px": 0.5, "py": 0.9}},
//	]
//
// Loading is lenient: a step that cannot be understood becomes a
// model.Invalid step, which finishes as ERROR when reached. Validate reports
// every such step for strict callers.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/tre/internal/model"
)

// Format is a rule file encoding.
type Format int

const (
	JSON Format = iota // JSON with comments
	YAML
)

// FormatFor picks the format from a file extension. Anything that is not
// .yaml or .yml is read as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSON
	}
}

// ReadFile reads and parses a rule file.
func ReadFile(path string) ([]model.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	steps, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return steps, nil
}

// Load reads a rule file. When strict is set, any malformed step fails the
// load with a *ValidationError.
func Load(path string, strict bool) ([]model.Step, error) {
	steps, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strict {
		if err := Validate(steps); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return steps, nil
}

// Parse decodes a rule document. It fails only when the document as a whole
// is unreadable; individual bad steps become model.Invalid.
func Parse(data []byte, f Format) ([]model.Step, error) {
	var docs []stepDoc
	var errs []error
	switch f {
	case YAML:
		var nodes []yaml.Node
		if err := yaml.Unmarshal(data, &nodes); err != nil {
			return nil, fmt.Errorf("parsing rules: top level must be a list: %w", err)
		}
		docs = make([]stepDoc, len(nodes))
		errs = make([]error, len(nodes))
		for i := range nodes {
			errs[i] = nodes[i].Decode(&docs[i])
		}
	default:
		var raws []json.RawMessage
		if err := json.Unmarshal(jsonc.ToJSON(data), &raws); err != nil {
			return nil, fmt.Errorf("parsing rules: top level must be a list: %w", err)
		}
		docs = make([]stepDoc, len(raws))
		errs = make([]error, len(raws))
		for i, raw := range raws {
			errs[i] = json.Unmarshal(raw, &docs[i])
		}
	}

	steps := make([]model.Step, len(docs))
	for i := range docs {
		if errs[i] != nil {
			steps[i] = model.Step{
				Name: defaultName(docs[i].Name, i),
				Body: model.Invalid{Reason: "invalid step: " + errs[i].Error()},
			}
			continue
		}
		steps[i] = docs[i].step(i)
	}
	return steps, nil
}

func defaultName(name string, i int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("step_%d", i+1)
}
