// Package matcher decides whether a log line satisfies a rule.
//
// Rules are compiled once. Matching is pure: it never mutates the rule and
// never reports an error. Patterns that fail to compile take an explicit
// fallback (substring containment for literal rules, no match for regex
// rules); the compile error is kept for validation reports.
package matcher

import (
	"regexp"
	"strings"

	"github.com/crimson-sun/tre/internal/engine/payload"
	"github.com/crimson-sun/tre/internal/model"
)

var anchorRe = regexp.MustCompile(`[A-Za-z0-9_]{3,}`)

// Compiled is a rule ready for matching.
type Compiled struct {
	rule    model.Rule
	text    text
	anchor  string
	headers []header
	err     error
}

type header struct {
	field string
	text  text
}

// Compile prepares a rule for matching.
func Compile(r model.Rule) *Compiled {
	c := &Compiled{rule: r}
	c.text, c.err = compileText(r.Pattern, r.Literal, r.IgnoreCase, r.Equals)
	c.anchor = anchorRe.FindString(r.Pattern)
	for _, h := range []struct{ field, pattern string }{
		{"ecu", r.ECU}, {"app", r.App}, {"ctx", r.Ctx},
	} {
		if h.pattern == "" {
			continue
		}
		t, err := compileText(h.pattern, r.Literal, r.IgnoreCase, r.Equals)
		if err != nil && c.err == nil {
			c.err = err
		}
		c.headers = append(c.headers, header{field: h.field, text: t})
	}
	return c
}

// Err returns the pattern compile error, if any. Matching still works
// through the fallback.
func (c *Compiled) Err() error { return c.err }

// Match reports whether the line satisfies the rule. pl is the line's
// extracted and sanitized payload.
func (c *Compiled) Match(raw, pl string) bool {
	if len(c.headers) > 0 && !c.matchHeaders(raw) {
		return false
	}
	flat := payload.Flatten(raw)
	if !c.rule.PayloadOnly {
		return c.text.match(payload.Sanitize(flat))
	}
	if c.text.match(pl) {
		return true
	}
	if c.anchor != "" {
		if s, ok := c.anchorSlice(flat); ok && c.text.match(payload.Sanitize(s)) {
			return true
		}
	}
	if s, ok := payload.ColonSlice(flat, payload.CandidateColonLimit); ok && c.text.match(payload.Sanitize(s)) {
		return true
	}
	return c.text.match(payload.Sanitize(flat))
}

// anchorSlice returns the raw line from the first occurrence of the
// pattern's leading word token.
func (c *Compiled) anchorSlice(flat string) (string, bool) {
	var i int
	if c.rule.IgnoreCase {
		i = strings.Index(strings.ToLower(flat), strings.ToLower(c.anchor))
	} else {
		i = strings.Index(flat, c.anchor)
	}
	if i < 0 {
		return "", false
	}
	return flat[i:], true
}

func (c *Compiled) matchHeaders(raw string) bool {
	h, _, _ := payload.SplitHeader(raw)
	for _, hc := range c.headers {
		var v string
		switch hc.field {
		case "ecu":
			v = h.ECU
		case "app":
			v = h.App
		case "ctx":
			v = h.Ctx
		}
		if !hc.text.match(v) {
			return false
		}
	}
	return true
}
