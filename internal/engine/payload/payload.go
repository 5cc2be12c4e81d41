// Package payload extracts the message part of a log line and normalizes it
// for matching.
package payload

import (
	"regexp"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Marker is the evaluation tag some producers embed in their lines. When
// present, the payload starts at its last occurrence.
const Marker = "[EVALUATION]:"

// Colon splits only count when they appear before these columns.
const (
	ExtractColonLimit   = 180
	CandidateColonLimit = 120
)

var noiseTokens = []string{"TELETELE", "AOTA", "CCU2s", "CCU2c"}

var (
	tailTagRe = regexp.MustCompile(`=\s*[A-Z]{2,10}\d*[a-z]?\b`)
	arrowRe   = regexp.MustCompile(`\s*>>\s*`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Extract returns the payload portion of a raw line: from the marker if
// present, else the text after the last ']', else the text after an early
// ": ", else the trimmed line.
func Extract(raw string) string {
	line := Flatten(raw)
	if i := strings.LastIndex(line, Marker); i >= 0 {
		return strings.TrimSpace(line[i:])
	}
	if i := strings.LastIndex(line, "]"); i >= 0 {
		if tail := strings.TrimSpace(line[i+1:]); tail != "" {
			return tail
		}
	}
	if tail, ok := ColonSlice(line, ExtractColonLimit); ok {
		return tail
	}
	return strings.TrimSpace(line)
}

// ColonSlice returns the text after the first ": " when that separator sits
// after column 0 and before limit.
func ColonSlice(line string, limit int) (string, bool) {
	p := strings.Index(line, ": ")
	if p <= 0 || p >= limit {
		return "", false
	}
	return strings.TrimSpace(line[p+2:]), true
}

// Flatten replaces line breaks with spaces and drops every character that is
// not printable ASCII or a tab.
func Flatten(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	out, _, err := transform.String(runes.Remove(runes.Predicate(nonPrintable)), s)
	if err != nil {
		return s
	}
	return out
}

func nonPrintable(r rune) bool {
	if r == '\t' {
		return false
	}
	return r < 0x20 || r > 0x7e
}

// Sanitize normalizes a payload for matching. It is pure and idempotent:
// removing a tag or noise token can expose a new one, so the passes repeat
// until the text stops changing.
func Sanitize(s string) string {
	s = sanitizePass(s)
	for {
		next := sanitizePass(s)
		if next == s {
			return s
		}
		s = next
	}
}

// sanitizePass never grows already normalized text, so Sanitize terminates.
func sanitizePass(s string) string {
	s = Flatten(s)
	s = mapWords(s, dropNoise)
	s = mapWords(s, repeatUnit)
	for _, tok := range noiseTokens {
		s = strings.ReplaceAll(s, tok, " ")
	}
	s = mapWords(s, repeatUnit)
	s = tailTagRe.ReplaceAllString(s, " ")
	s = arrowRe.ReplaceAllString(s, " >> ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// mapWords replaces every maximal run of word characters with fn(run).
func mapWords(s string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		if !isWordByte(s[i]) {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := i
		for j < len(s) && isWordByte(s[j]) {
			j++
		}
		b.WriteString(fn(s[i:j]))
		i = j
	}
	return b.String()
}

func dropNoise(word string) string {
	for _, tok := range noiseTokens {
		if word == tok {
			return " "
		}
	}
	return word
}

// repeatUnit reduces a word made of one upper-case unit of 3 to 10 letters
// repeated back to back (OTAOTAOTA) to a single unit (OTA).
func repeatUnit(word string) string {
	if len(word) < 6 {
		return word
	}
	for i := 0; i < len(word); i++ {
		if word[i] < 'A' || word[i] > 'Z' {
			return word
		}
	}
	for n := 3; n <= 10 && n*2 <= len(word); n++ {
		if len(word)%n != 0 {
			continue
		}
		if strings.Repeat(word[:n], len(word)/n) == word {
			return word[:n]
		}
	}
	return word
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Header is the ECU::APP::CTX prefix of a DLT style line.
type Header struct {
	ECU, App, Ctx string
}

// SplitHeader parses "… ECU::APP::CTX: payload" lines. ok is false when the
// line carries no such header.
func SplitHeader(raw string) (h Header, rest string, ok bool) {
	line := strings.TrimSpace(Flatten(raw))
	i := strings.Index(line, "::")
	if i < 0 {
		return Header{}, line, false
	}
	head := line[:i]
	if sp := strings.LastIndexAny(head, " \t]"); sp >= 0 {
		head = head[sp+1:]
	}
	parts := strings.SplitN(line[i+2:], "::", 2)
	if len(parts) != 2 {
		return Header{}, line, false
	}
	app := parts[0]
	ctx, tail, found := strings.Cut(parts[1], ":")
	if !found {
		ctx, tail, _ = strings.Cut(strings.TrimSpace(parts[1]), " ")
	}
	return Header{
		ECU: strings.TrimSpace(head),
		App: strings.TrimSpace(app),
		Ctx: strings.TrimSpace(ctx),
	}, strings.TrimSpace(tail), true
}
