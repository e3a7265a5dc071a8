package dispatch

import "sync"

// History is a fixed-capacity ring buffer of invocation results. Safe for
// concurrent use.
type History struct {
	mu    sync.Mutex
	buf   []Result
	next  int
	count int
	total uint64
}

// NewHistory creates a history holding at most size results.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{buf: make([]Result, size)}
}

// Add records a copy of r, evicting the oldest entry when full.
func (h *History) Add(r *Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = *r
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
	h.total++
}

// List returns up to limit results, newest first. A non-positive limit
// returns everything held.
func (h *History) List(limit int) []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	out := make([]Result, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// Get returns a held result by ID.
func (h *History) Get(id string) (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < h.count; i++ {
		if h.buf[i].ID == id {
			return h.buf[i], true
		}
	}
	return Result{}, false
}

// Len returns the number of results held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Total returns the number of results ever added.
func (h *History) Total() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
