package metrics

import "sync/atomic"

// latencyRing is a fixed-capacity, overwriting ring buffer of latency
// samples in milliseconds. Writers advance the write cursor with an atomic
// add and take the slot modulo the capacity; readers copy a live slice for percentile computation. This
// trades exactness under concurrent writes (a reader may see a mix of old
// and new samples in the overwritten slots) for O(1) writes and O(H)
// reads.
type latencyRing struct {
	data     []float64
	writeIdx atomic.Uint64
	filled   atomic.Int64
	cap      int
}

func newLatencyRing(capacity int) *latencyRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &latencyRing{data: make([]float64, capacity), cap: capacity}
}

// add appends a sample, overwriting the oldest once the ring is full.
func (r *latencyRing) add(ms float64) {
	idx := r.writeIdx.Add(1) - 1
	r.data[idx%uint64(r.cap)] = ms
	if cur := r.filled.Load(); cur < int64(r.cap) {
		r.filled.Add(1)
	}
}

// snapshot copies the currently populated samples into a fresh slice.
// Concurrent writers may race with the copy; the result is a best-effort
// point-in-time view.
func (r *latencyRing) snapshot() []float64 {
	n := int(r.filled.Load())
	if n > r.cap {
		n = r.cap
	}
	out := make([]float64, n)
	copy(out, r.data[:n])
	return out
}

// reset clears the ring without reallocating the backing array.
func (r *latencyRing) reset() {
	r.writeIdx.Store(0)
	r.filled.Store(0)
}

func (r *latencyRing) count() int {
	n := int(r.filled.Load())
	if n > r.cap {
		n = r.cap
	}
	return n
}
