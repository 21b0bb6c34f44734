package schedule

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BurstSchedule is an alternate rate-pacing implementation backed directly
// by golang.org/x/time/rate.Limiter, offered alongside RateClock. Where
// RateClock hands out exact permit instants that the caller waits out
// itself, BurstSchedule exposes a blocking Wait and lets the token bucket
// absorb bursts of up to a tenth of cfg.TargetTPS permits — useful when a
// test plan wants smoothing rather than strict interval pacing.
type BurstSchedule struct {
	cfg   Config
	start time.Time

	mu      sync.Mutex
	limiter *rate.Limiter
	lastSet time.Time
}

// NewBurstSchedule builds a BurstSchedule. The burst size is
// cfg.TargetTPS/10, and 1 when that is below 1 or no rate target is set.
func NewBurstSchedule(cfg Config, now time.Time) *BurstSchedule {
	lim := rate.NewLimiter(rate.Limit(initialLimit(cfg)), burstSize(cfg))
	return &BurstSchedule{cfg: cfg, start: now, limiter: lim, lastSet: now}
}

func initialLimit(cfg Config) float64 {
	if cfg.RampTPS && cfg.TargetTPS > 1 {
		return 1
	}
	if cfg.TargetTPS <= 0 {
		return 0
	}
	return float64(cfg.TargetTPS)
}

func burstSize(cfg Config) int {
	if cfg.TargetTPS <= 0 {
		return 1
	}
	b := cfg.TargetTPS / 10
	if b < 1 {
		b = 1
	}
	return b
}

// Wait blocks until the limiter admits one permit, adjusting the limiter's
// rate for the current ramp position first. It respects ctx cancellation.
func (b *BurstSchedule) Wait(ctx context.Context) error {
	b.adjust(time.Now())
	return b.limiter.Wait(ctx)
}

// Allow is the non-blocking counterpart to Wait, for callers polling on a
// tick rather than awaiting a permit.
func (b *BurstSchedule) Allow() bool {
	b.adjust(time.Now())
	return b.limiter.Allow()
}

func (b *BurstSchedule) adjust(now time.Time) {
	if !b.cfg.RampTPS || b.cfg.TargetTPS <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Sub(b.lastSet) < RecomputeGranularity {
		return
	}
	b.lastSet = now

	elapsed := now.Sub(b.start)
	tps := rampedTPS(b.cfg, elapsed)
	b.limiter.SetLimit(rate.Limit(tps))
}

func rampedTPS(cfg Config, elapsed time.Duration) float64 {
	if cfg.RampDuration <= 0 {
		return float64(cfg.TargetTPS)
	}
	progress := float64(elapsed) / float64(cfg.RampDuration)
	if progress >= 1 {
		return float64(cfg.TargetTPS)
	}
	if progress < 0 {
		progress = 0
	}
	tps := 1 + progress*float64(cfg.TargetTPS-1)
	if tps < 1 {
		tps = 1
	}
	return tps
}
