package fingerprint

import "sync"

const (
	// DefaultHistorySize bounds how many fingerprints a run keeps.
	DefaultHistorySize = 64

	// DefaultStateWindow is how many of the newest entries keep their full state.
	DefaultStateWindow = 4
)

// History is a bounded ring buffer of entries for one run.
//
// Every entry keeps its fingerprint until it is evicted; only the newest
// stateWindow entries keep their serialized State. Memory use is therefore
// bounded no matter how long the run is. History is safe for concurrent use.
type History struct {
	mu          sync.Mutex
	buf         []Entry
	head        int // index of the oldest entry
	size        int
	stateWindow int
}

// NewHistory creates a buffer holding capacity entries with full states
// retained for the newest stateWindow of them. Non-positive arguments select
// the defaults.
func NewHistory(capacity, stateWindow int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	if stateWindow <= 0 {
		stateWindow = DefaultStateWindow
	}
	return &History{buf: make([]Entry, capacity), stateWindow: stateWindow}
}

// Append adds e as the newest entry, evicting the oldest when full.
func (h *History) Append(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.buf)
	if h.size < capacity {
		h.buf[(h.head+h.size)%capacity] = e
		h.size++
	} else {
		h.buf[h.head] = e
		h.head = (h.head + 1) % capacity
	}

	if h.size > h.stateWindow {
		stale := (h.head + h.size - 1 - h.stateWindow) % capacity
		h.buf[stale].State = nil
	}
}

// Entries returns a copy of the entries, oldest first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Truncate keeps entries up to and including index (as returned by Entries)
// and drops the rest. A negative index empties the history. It is used to
// prune a detected cycle before recovering.
func (h *History) Truncate(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case index < 0:
		h.size = 0
	case index+1 < h.size:
		h.size = index + 1
	}
}

// Reset empties the history.
func (h *History) Reset() {
	h.Truncate(-1)
}
