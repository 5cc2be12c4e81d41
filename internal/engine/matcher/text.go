package matcher

import (
	"regexp"
	"strings"
)

type mode int

const (
	modeRegexp mode = iota
	modeEquals
	modeSubstring // literal pattern that failed to compile
	modeNever     // regex pattern that failed to compile
)

// text matches a single string against one pattern.
type text struct {
	mode       mode
	pattern    string
	ignoreCase bool
	re         *regexp.Regexp
}

func compileText(pattern string, literal, ignoreCase, equals bool) (text, error) {
	t := text{pattern: pattern, ignoreCase: ignoreCase}
	if equals {
		t.mode = modeEquals
		return t, nil
	}
	expr := pattern
	if literal {
		expr = LiteralExpr(pattern)
	}
	if ignoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		if literal {
			t.mode = modeSubstring
		} else {
			t.mode = modeNever
		}
		return t, err
	}
	t.mode = modeRegexp
	t.re = re
	return t, nil
}

func (t text) match(s string) bool {
	switch t.mode {
	case modeEquals:
		if t.ignoreCase {
			return strings.EqualFold(s, t.pattern)
		}
		return s == t.pattern
	case modeSubstring:
		if t.ignoreCase {
			return strings.Contains(strings.ToLower(s), strings.ToLower(t.pattern))
		}
		return strings.Contains(s, t.pattern)
	case modeNever:
		return false
	default:
		return t.re.MatchString(s)
	}
}

// LiteralExpr converts a literal pattern to a regular expression. "***" is a
// lazy wildcard, a space matches one or more whitespace characters and ">>"
// tolerates surrounding whitespace. Everything else matches itself.
func LiteralExpr(pattern string) string {
	parts := strings.Split(pattern, "***")
	for i, p := range parts {
		q := regexp.QuoteMeta(p)
		q = strings.ReplaceAll(q, " ", `\s+`)
		q = strings.ReplaceAll(q, ">>", `\s*>>\s*`)
		parts[i] = q
	}
	return strings.Join(parts, ".*?")
}
