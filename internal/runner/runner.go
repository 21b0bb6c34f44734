// Package runner implements the single-node test runner: the state
// machine that drives warmup, ramp, sustain, and drain phases of one test
// plan, owning an execution engine and a metrics collector for the
// lifetime of the run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/loadstorm/internal/engine"
	"github.com/FairForge/loadstorm/internal/metrics"
	"github.com/FairForge/loadstorm/internal/schedule"
	"github.com/FairForge/loadstorm/pkg/task"
	"go.uber.org/zap"
)

// controlLoopInterval is the scheduler clock's cadence, per the "single
// logical clock at <=100ms cadence" control loop contract.
const controlLoopInterval = 100 * time.Millisecond

// ErrStoppedDuringWarmup is returned by runWarmup when an external Stop
// arrives while still in the Warmup phase; Run turns it into the Stopped
// state and returns nil.
var ErrStoppedDuringWarmup = errors.New("runner: stopped during warmup")

// Runner drives one Plan through its lifecycle. Not reusable: construct a
// fresh Runner (and Plan) per test.
type Runner struct {
	plan Plan
	log  *zap.Logger

	metricsCore *metrics.Collector
	engineCore  *engine.Engine
	sched       schedule.Schedule
	rateClock   *schedule.RateClock

	stateMu       sync.RWMutex
	state         State
	scheduleStart time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	graceful atomic.Bool
}

// New builds a Runner for plan. log may be nil.
func New(plan Plan, log *zap.Logger) (*Runner, error) {
	plan = plan.withDefaults()
	if plan.Factory == nil {
		return nil, errors.New("runner: plan.Factory is required")
	}
	if plan.maxConcurrency() < 1 {
		return nil, errors.New("runner: plan.Schedule.MaxConcurrency must be >= 1")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("runner")
	if plan.Name != "" {
		log = log.With(zap.String("test", plan.Name))
	}

	r := &Runner{
		plan:        plan,
		log:         log,
		metricsCore: metrics.New(metrics.Config{}, log),
		sched:       schedule.New(plan.Schedule),
		stopCh:      make(chan struct{}),
		state:       StateInit,
	}
	r.engineCore = engine.New(engine.Config{Concurrency: plan.Schedule.StartConcurrency}, engineSink{r.metricsCore}, log)
	if plan.Mode != ConcurrencyBounded {
		r.rateClock = schedule.NewRateClock(plan.Schedule, time.Now())
	}
	return r, nil
}

type engineSink struct{ c *metrics.Collector }

func (s engineSink) Record(r task.Result) { s.c.Record(r) }

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
	r.log.Info("state transition", zap.String("state", string(s)))
}

// Progress reports how far through the measured phase the run is, in
// [0, 1]: zero before the schedule clock starts, one once draining
// begins or the run reaches a terminal state.
func (r *Runner) Progress() float64 {
	r.stateMu.RLock()
	state := r.state
	start := r.scheduleStart
	r.stateMu.RUnlock()

	switch state {
	case StateInit, StateWarmup:
		return 0
	case StateDraining, StateCompleted, StateStopped, StateFailed:
		return 1
	}

	total := r.plan.rampDuration() + r.plan.SustainDuration
	if total <= 0 {
		return 1
	}
	p := float64(time.Since(start)) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

// Metrics returns the collector backing the measured phase. Safe to poll
// concurrently with Run.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metricsCore
}

// Engine returns the execution engine, mainly for observability
// (InFlight, Limit).
func (r *Runner) Engine() *engine.Engine {
	return r.engineCore
}

// Stop requests early termination. graceful=true drains in-flight work up
// to plan.GraceTimeout before forcing; graceful=false force-closes the
// engine immediately. Idempotent.
func (r *Runner) Stop(graceful bool) {
	r.graceful.Store(graceful)
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Run drives the full lifecycle to a terminal state, blocking until the
// test completes, is stopped, or fails. Returns nil for Completed and
// Stopped outcomes; a non-nil error for Failed.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(StateInit)

	if r.plan.WarmupDuration > 0 {
		r.setState(StateWarmup)
		if err := r.runWarmup(ctx); err != nil {
			if errors.Is(err, ErrStoppedDuringWarmup) {
				r.setState(StateStopped)
				return nil
			}
			r.setState(StateFailed)
			return err
		}
	}

	scheduleStart := time.Now()
	r.stateMu.Lock()
	r.scheduleStart = scheduleStart
	r.stateMu.Unlock()
	if r.rateClock != nil {
		r.rateClock = schedule.NewRateClock(r.plan.Schedule, scheduleStart)
	}
	r.setState(StateRamping)

	workCtx, workCancel := context.WithCancel(ctx)
	defer workCancel()

	stopSubmitting := make(chan struct{})
	var stopSubmitOnce sync.Once
	closeStopSubmitting := func() { stopSubmitOnce.Do(func() { close(stopSubmitting) }) }

	submitDone := make(chan struct{})
	go func() {
		defer close(submitDone)
		r.runSubmission(workCtx, stopSubmitting)
	}()

	outcome := r.runControlLoop(ctx, scheduleStart)
	closeStopSubmitting()
	r.setState(StateDraining)

	<-submitDone

	drainErr := r.drain(workCtx, workCancel, outcome)

	switch outcome {
	case outcomeStopRequested:
		r.setState(StateStopped)
		return nil
	case outcomeContextDone:
		r.setState(StateFailed)
		return ctx.Err()
	default:
		if drainErr != nil {
			r.setState(StateFailed)
			return fmt.Errorf("runner: drain deadline exceeded: %w", drainErr)
		}
		r.setState(StateCompleted)
		return nil
	}
}

// drain waits for in-flight work to finish gracefully, then force-closes
// if it doesn't within the configured timeouts. A non-graceful Stop skips
// straight to the force phase.
func (r *Runner) drain(workCtx context.Context, workCancel context.CancelFunc, outcome loopOutcome) error {
	skipGrace := outcome == outcomeStopRequested && !r.graceful.Load()

	if !skipGrace {
		graceCtx, cancel := context.WithTimeout(context.Background(), r.plan.GraceTimeout)
		defer cancel()
		if err := r.engineCore.AwaitDrain(graceCtx); err == nil {
			r.engineCore.Close()
			return nil
		}
	}

	workCancel()
	forceCtx, cancel := context.WithTimeout(context.Background(), r.plan.ForceTimeout)
	defer cancel()
	err := r.engineCore.AwaitDrain(forceCtx)
	r.engineCore.Close()
	return err
}

type loopOutcome int

const (
	outcomeSustainComplete loopOutcome = iota
	outcomeStopRequested
	outcomeContextDone
)

// runControlLoop is the single logical clock described in the component
// design: it resizes the engine toward the schedule's target concurrency
// at a fixed cadence and reports why it stopped.
func (r *Runner) runControlLoop(ctx context.Context, scheduleStart time.Time) loopOutcome {
	ticker := time.NewTicker(controlLoopInterval)
	defer ticker.Stop()

	ramp := r.plan.rampDuration()
	sustainEnd := ramp + r.plan.SustainDuration
	sustaining := false
	lastReport := scheduleStart

	for {
		select {
		case <-ticker.C:
			elapsed := time.Since(scheduleStart)
			target := r.sched.TargetConcurrency(elapsed)
			if max := r.plan.Bounds.MaxConcurrencySafety; max > 0 && target > max {
				target = max
			}
			r.engineCore.Resize(target)

			if !sustaining && elapsed >= ramp {
				sustaining = true
				r.setState(StateSustaining)
			}
			if time.Since(lastReport) >= r.plan.ReportInterval {
				lastReport = time.Now()
				r.logSummary(target)
			}
			if elapsed >= sustainEnd {
				return outcomeSustainComplete
			}
		case <-r.stopCh:
			return outcomeStopRequested
		case <-ctx.Done():
			return outcomeContextDone
		}
	}
}

// logSummary emits the live progress line the control loop writes every
// plan.ReportInterval while a test is in flight.
func (r *Runner) logSummary(target int) {
	snap := r.metricsCore.Snapshot()
	r.log.Info("progress",
		zap.Int64("total", snap.Total),
		zap.Int64("success", snap.Success),
		zap.Int64("failure", snap.Failure),
		zap.Float64("current_tps", snap.CurrentTPS),
		zap.Float64("avg_latency_ms", snap.AvgLatencyMs),
		zap.Float64("p95_ms", snap.Percentiles[95]),
		zap.Int("active_workers", r.engineCore.InFlight()),
		zap.Int("target_concurrency", target))
}

func (r *Runner) runWarmup(ctx context.Context) error {
	r.engineCore.Resize(r.plan.maxConcurrency())

	stop := make(chan struct{})
	fillDone := make(chan struct{})
	go func() {
		defer close(fillDone)
		r.runFillLoop(ctx, stop)
	}()

	timer := time.NewTimer(r.plan.WarmupDuration)
	defer timer.Stop()

	var stopped bool
	select {
	case <-timer.C:
	case <-ctx.Done():
		close(stop)
		<-fillDone
		return ctx.Err()
	case <-r.stopCh:
		stopped = true
	}
	close(stop)
	<-fillDone

	drainCtx, cancel := context.WithTimeout(context.Background(), r.plan.GraceTimeout)
	defer cancel()
	_ = r.engineCore.AwaitDrain(drainCtx)

	r.metricsCore.Reset()

	if stopped {
		return ErrStoppedDuringWarmup
	}
	return nil
}

func (r *Runner) runSubmission(ctx context.Context, stop <-chan struct{}) {
	if r.plan.Mode == ConcurrencyBounded {
		r.runFillLoop(ctx, stop)
		return
	}
	r.runRateLoop(ctx, stop)
}

// runFillLoop submits continuously; the blocking Submit call itself
// provides backpressure against the engine's current concurrency limit.
func (r *Runner) runFillLoop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		id := r.engineCore.NextTaskID()
		t := r.plan.Factory.Create(id)
		if err := r.engineCore.Submit(ctx, t, id); err != nil {
			return
		}
	}
}

// runRateLoop paces submissions to the rate clock's scheduled instants.
// A permit that cannot be placed immediately blocks (deferred, not
// dropped) rather than being rolled back; Rollback is used only when a
// permit is abandoned outright because the loop is exiting before it was
// ever submitted.
func (r *Runner) runRateLoop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		now := time.Now()
		instant, ok := r.rateClock.NextPermitInstant(now)
		if !ok {
			// No rate target configured for this plan; behave like a
			// concurrency-bounded submitter.
			id := r.engineCore.NextTaskID()
			t := r.plan.Factory.Create(id)
			if err := r.engineCore.Submit(ctx, t, id); err != nil {
				return
			}
			continue
		}

		if wait := time.Until(instant); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-stop:
				timer.Stop()
				r.rateClock.Rollback(r.rateClock.CurrentIntervalNanos(now))
				return
			case <-ctx.Done():
				timer.Stop()
				r.rateClock.Rollback(r.rateClock.CurrentIntervalNanos(now))
				return
			}
		}

		id := r.engineCore.NextTaskID()
		t := r.plan.Factory.Create(id)
		if err := r.engineCore.Submit(ctx, t, id); err != nil {
			return
		}
	}
}
