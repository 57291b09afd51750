package webhook

import "sync"

// dedupRing remembers the most recent webhook identifiers in a bounded FIFO:
// when full, the oldest identifier is evicted first, never an arbitrary one.
type dedupRing struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

func newDedupRing(size int) *dedupRing {
	if size < 1 {
		size = 1
	}
	return &dedupRing{
		seen: make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// Seen records id and reports whether it was already present.
func (d *dedupRing) Seen(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.next = (d.next + 1) % len(d.ring)
	d.seen[id] = struct{}{}
	return false
}
