package recorder

import (
	"context"
	"sync"

	"github.com/quadgate/fsmregistry/pkg/fsm"
)

// Ring is an in-memory, fixed-capacity recorder that keeps the most recent
// N transition records for inspection, e.g. by the live-debug HTTP surface.
// It never returns an error: dropping the oldest record on overflow is the
// whole point, not a failure.
type Ring struct {
	mu       sync.Mutex
	records  []fsm.TransitionRecord
	capacity int
	next     int
	full     bool
}

// NewRing creates a Ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{records: make([]fsm.TransitionRecord, capacity), capacity: capacity}
}

func (r *Ring) Record(ctx context.Context, rec fsm.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = rec
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Recent returns up to n of the most recently recorded transitions, newest
// first.
func (r *Ring) Recent(n int) []fsm.TransitionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = r.capacity
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]fsm.TransitionRecord, 0, n)
	idx := r.next
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = r.capacity - 1
		}
		out = append(out, r.records[idx])
	}
	return out
}
