package steps

// Entry is one dispatched line kept for catch-up scans.
type Entry struct {
	Seq     uint64
	Raw     string
	Payload string
}

// History is a bounded FIFO of recent lines. When full, the oldest entry is
// dropped.
type History struct {
	buf   []Entry
	start int
	n     int
}

// NewHistory returns a history holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Entry, capacity)}
}

// Append adds an entry, evicting the oldest when full.
func (h *History) Append(e Entry) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = e
		h.n++
		return
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of retained entries.
func (h *History) Len() int { return h.n }

// Each calls fn for every entry from oldest to newest until fn returns false.
func (h *History) Each(fn func(Entry) bool) {
	for i := 0; i < h.n; i++ {
		if !fn(h.buf[(h.start+i)%len(h.buf)]) {
			return
		}
	}
}
