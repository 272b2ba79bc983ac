package ingest

import "sync"

// Window remembers the last N trade keys seen, in insertion order.
// Reconnect replay delivers overlapping trades out of order, so the
// window is the correctness backstop ahead of the database conflict
// check.
type Window struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

// NewWindow creates a dedup window holding capacity keys.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Observe records a key and reports whether it was already present.
// When the window is full the oldest key is forgotten.
func (w *Window) Observe(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[key]; dup {
		return true
	}

	if old := w.ring[w.next]; old != "" {
		delete(w.seen, old)
	}
	w.ring[w.next] = key
	w.next = (w.next + 1) % len(w.ring)
	w.seen[key] = struct{}{}
	return false
}

// Len returns the number of keys currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
