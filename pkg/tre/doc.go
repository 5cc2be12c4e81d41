// Package tre verifies log output against an ordered list of expected
// events ("steps").
//
// Quick start, checking lines already in memory:
//
//	steps, err := tre.ParseRules([]byte(`[
//	  {"name": "boot", "find": {"pattern": "BOOT ***OK", "literal": true}},
//	  {"name": "no panic", "not_find": {"pattern": "panic"}}
//	]`), false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	results, _ := tre.Check(lines, steps)
//	for _, r := range results {
//	    fmt.Println(r.Index, r.Name, r.Outcome)
//	}
//
// Run does the same against a live TCP log stream until every step has
// finished or ctx is cancelled. Steps are evaluated strictly in order: a step
// only sees lines that arrive after the previous one finished, plus the
// recent history kept for catch-up.
package tre
