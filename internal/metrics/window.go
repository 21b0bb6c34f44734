package metrics

import (
	"sync"
	"time"
)

// windowBucket is a per-second (configurable) accumulator. Buckets are
// created lazily on first write and reaped opportunistically once older
// than the retention horizon.
type windowBucket struct {
	mu          sync.Mutex
	count       int64
	success     int64
	failure     int64
	latencySum  float64
	sizeSum     int64
	statusCodes map[int]int64
	samples     []float64
}

func newWindowBucket() *windowBucket {
	return &windowBucket{statusCodes: make(map[int]int64)}
}

func (b *windowBucket) record(latencyMs float64, success bool, statusCode int, size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	if success {
		b.success++
	} else {
		b.failure++
	}
	b.latencySum += latencyMs
	b.sizeSum += size
	if statusCode != 0 {
		b.statusCodes[statusCode]++
	}
	// Bound per-bucket sample retention; a bucket only covers one window so
	// a modest cap keeps "recent" percentile computation cheap.
	const maxBucketSamples = 2000
	if len(b.samples) < maxBucketSamples {
		b.samples = append(b.samples, latencyMs)
	}
}

func (b *windowBucket) snapshot() (count, success, failure int64, latencySum float64, sizeSum int64, statusCodes map[int]int64, samples []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	statusCodes = make(map[int]int64, len(b.statusCodes))
	for k, v := range b.statusCodes {
		statusCodes[k] = v
	}
	samples = make([]float64, len(b.samples))
	copy(samples, b.samples)
	return b.count, b.success, b.failure, b.latencySum, b.sizeSum, statusCodes, samples
}

// windowIndex keys buckets by floor(epoch_ms / windowSizeMs), guarded by a
// read-write lock: writers (many, concurrent) hold the read lock; the
// cooperative GC sweep holds the write lock for the duration of the sweep.
type windowIndex struct {
	mu              sync.RWMutex
	buckets         map[int64]*windowBucket
	windowSizeMs    int64
	retention       time.Duration
	cleanupInterval time.Duration
	lastCleanup     atomicTime
}

func newWindowIndex(windowSize time.Duration, retention, cleanupInterval time.Duration) *windowIndex {
	return &windowIndex{
		buckets:         make(map[int64]*windowBucket),
		windowSizeMs:    windowSize.Milliseconds(),
		retention:       retention,
		cleanupInterval: cleanupInterval,
	}
}

func (w *windowIndex) key(t time.Time) int64 {
	return t.UnixMilli() / w.windowSizeMs
}

// bucketFor returns (creating if necessary) the bucket for time t.
func (w *windowIndex) bucketFor(t time.Time) *windowBucket {
	k := w.key(t)

	w.mu.RLock()
	b, ok := w.buckets[k]
	w.mu.RUnlock()
	if ok {
		return b
	}

	w.mu.Lock()
	b, ok = w.buckets[k]
	if !ok {
		b = newWindowBucket()
		w.buckets[k] = b
	}
	w.mu.Unlock()
	return b
}

// maybeCleanup sweeps buckets older than retention, at most once per
// cleanupInterval. Safe to call from any writer goroutine.
func (w *windowIndex) maybeCleanup(now time.Time) {
	last := w.lastCleanup.Load()
	if !last.IsZero() && now.Sub(last) < w.cleanupInterval {
		return
	}
	if !w.lastCleanup.CompareAndSwap(last, now) {
		return // another writer beat us to it
	}

	cutoff := w.key(now.Add(-w.retention))
	w.mu.Lock()
	for k := range w.buckets {
		if k < cutoff {
			delete(w.buckets, k)
		}
	}
	w.mu.Unlock()
}

// keysSince returns bucket keys whose window start falls within
// [now-lookback, now].
func (w *windowIndex) keysSince(now time.Time, lookback time.Duration) []int64 {
	// Round the lower bound up: a bucket that starts before now-lookback
	// is outside the range even if now-lookback falls inside it.
	fromMs := now.Add(-lookback).UnixMilli()
	from := (fromMs + w.windowSizeMs - 1) / w.windowSizeMs
	to := w.key(now)
	if from > to {
		return nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]int64, 0, to-from+1)
	for k := range w.buckets {
		if k >= from && k <= to {
			keys = append(keys, k)
		}
	}
	return keys
}

func (w *windowIndex) bucket(k int64) (*windowBucket, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.buckets[k]
	return b, ok
}

func (w *windowIndex) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buckets = make(map[int64]*windowBucket)
}
