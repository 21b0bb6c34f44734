package schedule

import (
	"sync/atomic"
	"time"
)

// RateClock paces permit emission in rate-limited execution modes. It
// advances a strictly-monotonic nextInstant counter by
// intervalNanos = 1e9/currentTPS under a compare-and-swap loop so a failed
// downstream submission can roll the instant back without disturbing
// concurrent advances from other goroutines.
//
// currentTPS ramps continuously during rate ramp-up but is recomputed at
// most once per RecomputeGranularity to avoid doing so on every permit.
type RateClock struct {
	cfg Config

	nextInstant atomic.Int64 // unix nanos

	cachedTPS     atomic.Int64 // fixed-point *1000
	cachedAt      atomic.Int64 // unix nanos of last recompute
	scheduleStart time.Time
}

// RecomputeGranularity bounds how often currentTPS is recomputed during
// ramp-up.
const RecomputeGranularity = 100 * time.Millisecond

// NewRateClock starts a clock for the given config at "now".
func NewRateClock(cfg Config, now time.Time) *RateClock {
	c := &RateClock{cfg: cfg, scheduleStart: now}
	c.nextInstant.Store(now.UnixNano())
	return c
}

// currentTPS resolves the effective target TPS at elapsed, ramping linearly
// from 1 to cfg.TargetTPS over cfg.RampDuration when cfg.RampTPS is set.
func (c *RateClock) currentTPS(elapsed time.Duration) int {
	if c.cfg.TargetTPS <= 0 {
		return 0
	}
	if !c.cfg.RampTPS || c.cfg.RampDuration <= 0 {
		return c.cfg.TargetTPS
	}
	progress := float64(elapsed) / float64(c.cfg.RampDuration)
	if progress >= 1 {
		return c.cfg.TargetTPS
	}
	if progress < 0 {
		progress = 0
	}
	tps := 1 + progress*float64(c.cfg.TargetTPS-1)
	if tps < 1 {
		tps = 1
	}
	return int(tps)
}

// cachedCurrentTPS returns currentTPS, recomputing at most once per
// RecomputeGranularity.
func (c *RateClock) cachedCurrentTPS(now time.Time) int {
	last := c.cachedAt.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < RecomputeGranularity {
		return int(c.cachedTPS.Load() / 1000)
	}
	tps := c.currentTPS(now.Sub(c.scheduleStart))
	c.cachedTPS.Store(int64(tps) * 1000)
	c.cachedAt.Store(now.UnixNano())
	return tps
}

// NextPermitInstant returns the wall-clock instant at which the next
// rate-paced task should begin, advancing the internal counter by one
// interval. Returns ok=false when no rate target is configured
// (ConcurrencyBounded mode).
func (c *RateClock) NextPermitInstant(now time.Time) (instant time.Time, ok bool) {
	tps := c.cachedCurrentTPS(now)
	if tps <= 0 {
		return time.Time{}, false
	}
	intervalNanos := int64(1e9) / int64(tps)

	for {
		cur := c.nextInstant.Load()
		next := cur + intervalNanos
		if c.nextInstant.CompareAndSwap(cur, next) {
			return time.Unix(0, cur), true
		}
	}
}

// Rollback undoes the most recent NextPermitInstant advance when the
// returned permit could not be used (e.g. the engine could not accept the
// submission).
func (c *RateClock) Rollback(intervalNanos int64) {
	for {
		old := c.nextInstant.Load()
		if c.nextInstant.CompareAndSwap(old, old-intervalNanos) {
			return
		}
	}
}

// Peek returns the next scheduled instant without advancing the counter.
func (c *RateClock) Peek() time.Time {
	return time.Unix(0, c.nextInstant.Load())
}

// CurrentIntervalNanos returns the interval NextPermitInstant would use if
// called now, without advancing the counter. Callers use this to compute
// the argument to Rollback when a generated permit is abandoned outright.
func (c *RateClock) CurrentIntervalNanos(now time.Time) int64 {
	tps := c.cachedCurrentTPS(now)
	if tps <= 0 {
		return 0
	}
	return int64(1e9) / int64(tps)
}
