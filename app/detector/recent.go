package detector

import (
	"sync"
)

// recentRing remembers the last N queued item ids so one item surfacing in
// several overlapping queries is only queued once per cycle. The durable
// delivery ledger handles everything beyond that horizon.
type recentRing struct {
	mu   sync.Mutex
	ids  []int64
	seen map[int64]bool
	next int
	cap  int
}

func newRecentRing(capacity int) *recentRing {
	return &recentRing{
		ids:  make([]int64, capacity),
		seen: make(map[int64]bool, capacity),
		cap:  capacity,
	}
}

func (r *recentRing) Contains(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[id]
}

// Add records id, displacing the oldest entry once the ring is full.
func (r *recentRing) Add(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[id] {
		return
	}
	if old := r.ids[r.next]; old != 0 {
		delete(r.seen, old)
	}
	r.ids[r.next] = id
	r.seen[id] = true
	r.next = (r.next + 1) % r.cap
}
