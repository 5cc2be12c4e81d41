package dedup

import (
	"fmt"
	"time"

	"github.com/crimson-sun/tre/internal/model"
)

// Config controls deduplication behavior.
type Config struct {
	Window time.Duration // a run of repeats is cut once it spans longer than this
}

// Deduplicator collapses runs of identical consecutive events.
type Deduplicator struct {
	cfg Config
}

// New creates a Deduplicator with the given config.
func New(cfg Config) *Deduplicator {
	return &Deduplicator{cfg: cfg}
}

type run struct {
	event    model.Event
	count    int
	latestTS time.Time
}

// Collapse merges consecutive events with the same Kind and Message whose
// timestamps stay within Window of the first one. Order is preserved. A
// merged event gets Count set and its Message suffixed with the repeat
// count and span, e.g. "link up (x12 in 3s)".
func (d *Deduplicator) Collapse(events []model.Event) []model.Event {
	if len(events) == 0 {
		return nil
	}

	var runs []*run
	for _, e := range events {
		if n := len(runs); n > 0 {
			cur := runs[n-1]
			if cur.event.Kind == e.Kind && cur.event.Message == e.Message &&
				e.Timestamp.Sub(cur.event.Timestamp) <= d.cfg.Window {
				cur.count++
				if e.Timestamp.After(cur.latestTS) {
					cur.latestTS = e.Timestamp
				}
				continue
			}
		}
		runs = append(runs, &run{event: e, count: 1, latestTS: e.Timestamp})
	}

	result := make([]model.Event, 0, len(runs))
	for _, r := range runs {
		e := r.event
		if r.count > 1 {
			e.Count = r.count
			e.Message = fmt.Sprintf("%s (x%d in %s)", e.Message, r.count, formatDuration(r.latestTS.Sub(e.Timestamp)))
		}
		result = append(result, e)
	}
	return result
}

// formatDuration produces a human-readable short duration string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
