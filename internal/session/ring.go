package session

import "github.com/crimson-sun/tre/internal/model"

// DefaultRingSize bounds the lines buffered while settling or paused.
const DefaultRingSize = 20000

// Ring is a bounded FIFO of lines. When full, the oldest line is dropped.
// Not safe for concurrent use; the session loop owns it.
type Ring struct {
	buf     []model.RawLine
	head    int
	size    int
	dropped int
}

// NewRing creates a ring holding at most capacity lines.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{buf: make([]model.RawLine, capacity)}
}

// Push appends lines, evicting the oldest when full.
func (r *Ring) Push(lines ...model.RawLine) {
	for _, l := range lines {
		idx := (r.head + r.size) % len(r.buf)
		r.buf[idx] = l
		if r.size < len(r.buf) {
			r.size++
			continue
		}
		r.head = (r.head + 1) % len(r.buf)
		r.dropped++
	}
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int { return r.size }

// Dropped returns how many lines were evicted since the last Drain.
func (r *Ring) Dropped() int { return r.dropped }

// Drain removes and returns every buffered line, oldest first.
func (r *Ring) Drain() []model.RawLine {
	out := make([]model.RawLine, r.size)
	for i := range out {
		idx := (r.head + i) % len(r.buf)
		out[i] = r.buf[idx]
		r.buf[idx] = model.RawLine{}
	}
	r.head, r.size, r.dropped = 0, 0, 0
	return out
}
