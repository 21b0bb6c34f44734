// Package metrics implements the thread-safe metrics core: it records every
// task outcome with bounded memory, maintains rolling latency samples for
// percentile computation, and emits immutable snapshots.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/loadstorm/pkg/task"
	"go.uber.org/zap"
)

const (
	// DefaultRingCapacity is H from the data model: the number of latency
	// samples retained in the global rolling ring.
	DefaultRingCapacity = 10000
	// DefaultWindowSize is the per-second accumulator width.
	DefaultWindowSize = time.Second
	// DefaultRetention is the horizon after which idle window buckets are
	// reaped. The source material mixes a "10 minutes" and a "last hour"
	// constant for this; we declare 10 minutes the contract (see
	// DESIGN.md Open Questions).
	DefaultRetention = 10 * time.Minute
	// DefaultCleanupInterval bounds how often any single writer goroutine
	// may perform a GC sweep.
	DefaultCleanupInterval = 60 * time.Second
	// maxErrorKeys bounds the error-class table; oldest-by-last-write is
	// evicted on overflow.
	maxErrorKeys = 1024
)

// Config configures a Collector. Zero values fall back to the documented
// defaults.
type Config struct {
	RingCapacity    int
	WindowSize      time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RingCapacity <= 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}

type errorEntry struct {
	count    atomic.Int64
	lastSeen atomic.Int64 // unix nanos
}

// Collector is the metrics core: Record is non-blocking and lock-free on
// the fast path; Snapshot and Recent copy a consistent-enough view for
// percentile computation.
type Collector struct {
	log *zap.Logger

	startedAt time.Time

	total   atomic.Int64
	success atomic.Int64
	failure atomic.Int64

	latencySumMs atomic.Int64 // stored as millis*1000 fixed point for atomicity
	sizeSum      atomic.Int64

	ring    *latencyRing
	windows *windowIndex

	statusMu sync.RWMutex
	status   map[int]*atomic.Int64

	errMu  sync.Mutex
	errors map[string]*errorEntry

	resetMu sync.Mutex // serializes Reset against concurrent Record bursts

	closed atomic.Bool
}

// New creates a Collector. log may be nil; a no-op logger is substituted.
func New(cfg Config, log *zap.Logger) *Collector {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		log:       log.Named("metrics"),
		startedAt: time.Now(),
		ring:      newLatencyRing(cfg.RingCapacity),
		windows:   newWindowIndex(cfg.WindowSize, cfg.Retention, cfg.CleanupInterval),
		status:    make(map[int]*atomic.Int64),
		errors:    make(map[string]*errorEntry),
	}
}

// Record stores a task outcome. It never fails; a malformed result (e.g.
// End before Start) is simply recorded with a clamped non-negative latency.
func (c *Collector) Record(r task.Result) {
	if c.closed.Load() {
		return
	}

	latencyMs := float64(r.Latency().Microseconds()) / 1000.0
	if latencyMs < 0 {
		latencyMs = 0
	}

	c.total.Add(1)
	if r.Success {
		c.success.Add(1)
	} else {
		c.failure.Add(1)
	}
	c.latencySumMs.Add(int64(latencyMs * 1000))
	c.sizeSum.Add(r.ResponseBytes)

	c.ring.add(latencyMs)

	now := time.Now()
	c.windows.bucketFor(now).record(latencyMs, r.Success, r.StatusCode, r.ResponseBytes)
	c.windows.maybeCleanup(now)

	if r.StatusCode != 0 {
		c.recordStatus(r.StatusCode)
	}
	if !r.Success && r.ErrorClass != "" {
		c.recordError(r.ErrorClass, now)
	}
}

func (c *Collector) recordStatus(code int) {
	c.statusMu.RLock()
	counter, ok := c.status[code]
	c.statusMu.RUnlock()
	if !ok {
		c.statusMu.Lock()
		counter, ok = c.status[code]
		if !ok {
			counter = &atomic.Int64{}
			c.status[code] = counter
		}
		c.statusMu.Unlock()
	}
	counter.Add(1)
}

func (c *Collector) recordError(class string, now time.Time) {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	e, ok := c.errors[class]
	if !ok {
		if len(c.errors) >= maxErrorKeys {
			c.evictOldestErrorLocked()
		}
		e = &errorEntry{}
		c.errors[class] = e
	}
	e.count.Add(1)
	e.lastSeen.Store(now.UnixNano())
}

// evictOldestErrorLocked drops the entry with the oldest lastSeen to bound
// the table at maxErrorKeys. Caller holds errMu.
func (c *Collector) evictOldestErrorLocked() {
	var oldestKey string
	var oldestTime int64 = 1<<63 - 1
	for k, e := range c.errors {
		if t := e.lastSeen.Load(); t < oldestTime {
			oldestTime = t
			oldestKey = k
		}
	}
	if oldestKey != "" {
		delete(c.errors, oldestKey)
	}
}

// Snapshot returns an immutable view reflecting all Records that
// happen-before the call.
func (c *Collector) Snapshot() Snapshot {
	return c.snapshotFrom(c.ring.snapshot(), c.startedAt)
}

// Recent aggregates window buckets whose start falls in the last k seconds.
// If no bucket has data it falls back to the overall Snapshot.
func (c *Collector) Recent(k time.Duration) Snapshot {
	agg, ok := c.recentAggregate(k)
	if !ok {
		return c.Snapshot()
	}

	sorted := sortedCopy(agg.samples)
	snap := Snapshot{
		Total:        agg.count,
		Success:      agg.success,
		Failure:      agg.failure,
		Elapsed:      k,
		Percentiles:  percentileMap(sorted, DefaultPercentiles),
		StatusCodes:  agg.statusCodes,
		AvgLatencyMs: safeDiv(agg.latencySum, float64(agg.count)),
		SuccessRate:  safeDiv(float64(agg.success), float64(agg.count)),
		AvgRespBytes: safeDiv(float64(agg.sizeSum), float64(agg.count)),
	}
	if k > 0 {
		snap.CurrentTPS = float64(agg.count) / k.Seconds()
	}
	snap.OverallTPS = snap.CurrentTPS
	snap.TopErrors = c.topErrors(10)
	return snap
}

type windowAggregate struct {
	count, success, failure int64
	latencySum              float64
	sizeSum                 int64
	statusCodes             map[int]int64
	samples                 []float64
}

// recentAggregate sums window-bucket data over the last k seconds. ok is
// false when no bucket in range has any data, letting callers decide their
// own fallback instead of this method recursing into Snapshot itself.
func (c *Collector) recentAggregate(k time.Duration) (windowAggregate, bool) {
	now := time.Now()
	keys := c.windows.keysSince(now, k)

	agg := windowAggregate{statusCodes: make(map[int]int64)}
	for _, key := range keys {
		b, ok := c.windows.bucket(key)
		if !ok {
			continue
		}
		bc, bs, bf, bls, bss, bsc, bsamples := b.snapshot()
		agg.count += bc
		agg.success += bs
		agg.failure += bf
		agg.latencySum += bls
		agg.sizeSum += bss
		for code, n := range bsc {
			agg.statusCodes[code] += n
		}
		agg.samples = append(agg.samples, bsamples...)
	}

	return agg, agg.count > 0
}

func (c *Collector) snapshotFrom(samples []float64, startedAt time.Time) Snapshot {
	total := c.total.Load()
	if total == 0 {
		s := emptySnapshot()
		s.Elapsed = time.Since(startedAt)
		return s
	}

	sorted := sortedCopy(samples)
	elapsed := time.Since(startedAt)

	success := c.success.Load()
	failure := c.failure.Load()
	latencySum := float64(c.latencySumMs.Load()) / 1000.0
	sizeSum := c.sizeSum.Load()

	statusCodes := c.statusSnapshot()

	snap := Snapshot{
		Total:        total,
		Success:      success,
		Failure:      failure,
		Elapsed:      elapsed,
		Percentiles:  percentileMap(sorted, DefaultPercentiles),
		StatusCodes:  statusCodes,
		AvgLatencyMs: safeDiv(latencySum, float64(total)),
		SuccessRate:  safeDiv(float64(success), float64(total)),
		AvgRespBytes: safeDiv(float64(sizeSum), float64(total)),
		TopErrors:    c.topErrors(10),
	}
	if elapsed > 0 {
		snap.OverallTPS = float64(total) / elapsed.Seconds()
	}
	if agg, ok := c.recentAggregate(time.Second); ok {
		snap.CurrentTPS = float64(agg.count) / time.Second.Seconds()
	} else {
		snap.CurrentTPS = snap.OverallTPS
	}
	return snap
}

func (c *Collector) statusSnapshot() map[int]int64 {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	out := make(map[int]int64, len(c.status))
	for k, v := range c.status {
		out[k] = v.Load()
	}
	return out
}

func (c *Collector) topErrors(n int) []ErrorCount {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	entries := make([]ErrorCount, 0, len(c.errors))
	for class, e := range c.errors {
		entries = append(entries, ErrorCount{Class: class, Count: e.count.Load()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Class < entries[j].Class
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Percentile computes an arbitrary percentile (0-100) over the current
// latency ring.
func (c *Collector) Percentile(p float64) float64 {
	return percentile(sortedCopy(c.ring.snapshot()), p)
}

// Reset zeros counters and clears histories. Used between warmup and
// measured phases.
func (c *Collector) Reset() {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()

	c.total.Store(0)
	c.success.Store(0)
	c.failure.Store(0)
	c.latencySumMs.Store(0)
	c.sizeSum.Store(0)
	c.ring.reset()
	c.windows.reset()

	c.statusMu.Lock()
	c.status = make(map[int]*atomic.Int64)
	c.statusMu.Unlock()

	c.errMu.Lock()
	c.errors = make(map[string]*errorEntry)
	c.errMu.Unlock()

	c.startedAt = time.Now()
}

// Close releases bucket/history storage; subsequent Records are dropped.
func (c *Collector) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.windows.reset()
		c.log.Debug("metrics collector closed")
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
