package runner

import (
	"time"

	"github.com/FairForge/loadstorm/internal/schedule"
	"github.com/FairForge/loadstorm/pkg/task"
)

// ExecutionMode selects how the runner paces submissions.
type ExecutionMode string

const (
	// ConcurrencyBounded submits as fast as the concurrency permit allows;
	// no independent rate target.
	ConcurrencyBounded ExecutionMode = "concurrency_bounded"
	// RateLimited paces submissions to a target rate via the schedule's
	// RateClock. It runs the same submission loop as Hybrid, so each
	// submission still waits for a slot under the engine's concurrency
	// limit.
	RateLimited ExecutionMode = "rate_limited"
	// Hybrid combines both: submissions are rate-paced, and a permit that
	// cannot be placed immediately is deferred (blocks) rather than
	// dropped or used to rewind the rate clock.
	Hybrid ExecutionMode = "hybrid"
)

// Bounds caps the runner regardless of what the schedule computes, guarding
// against misconfigured test plans overwhelming the process.
type Bounds struct {
	MaxTPS               int
	MaxConcurrencySafety int
}

// Plan is the immutable configuration of a single test run.
type Plan struct {
	Name string

	Schedule        schedule.Config
	SustainDuration time.Duration
	WarmupDuration  time.Duration

	Factory task.Factory
	Mode    ExecutionMode
	Bounds  Bounds

	// GraceTimeout and ForceTimeout bound the Draining phase: graceful
	// drain for GraceTimeout, then the context passed to running tasks is
	// cancelled and the runner waits up to ForceTimeout more. A task that
	// returns an error after that cancellation is recorded as cancelled;
	// one that returns its own Result is recorded with that Result.
	GraceTimeout time.Duration
	ForceTimeout time.Duration

	// ReportInterval is the cadence of the runner's live log summary
	// while a test is in flight.
	ReportInterval time.Duration
}

func (p Plan) withDefaults() Plan {
	if p.GraceTimeout <= 0 {
		p.GraceTimeout = 30 * time.Second
	}
	if p.ForceTimeout <= 0 {
		p.ForceTimeout = 10 * time.Second
	}
	if p.ReportInterval <= 0 {
		p.ReportInterval = 5 * time.Second
	}
	return p
}

// rampDuration mirrors the configured ramp duration, defaulting to zero
// (immediate jump to max concurrency) when unset.
func (p Plan) rampDuration() time.Duration {
	return p.Schedule.RampDuration
}

func (p Plan) maxConcurrency() int {
	cap := p.Schedule.MaxConcurrency
	if p.Bounds.MaxConcurrencySafety > 0 && cap > p.Bounds.MaxConcurrencySafety {
		cap = p.Bounds.MaxConcurrencySafety
	}
	return cap
}
