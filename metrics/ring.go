package metrics

import (
	"sort"
	"sync"
)

// sampleRing is a fixed-capacity ring of float64 observations. Inserts
// are constant-time; quantile snapshots copy and sort the live window.
type sampleRing struct {
	mu   sync.Mutex
	buf  []float64
	next int
	full bool
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{buf: make([]float64, size)}
}

func (r *sampleRing) add(v float64) {
	r.mu.Lock()
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// quantile returns the q-quantile (0..1) of the current window, or 0
// when the ring is empty.
func (r *sampleRing) quantile(q float64) float64 {
	r.mu.Lock()
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if size == 0 {
		r.mu.Unlock()
		return 0
	}
	snapshot := make([]float64, size)
	copy(snapshot, r.buf[:size])
	r.mu.Unlock()

	sort.Float64s(snapshot)
	idx := int(q * float64(size-1))
	return snapshot[idx]
}
