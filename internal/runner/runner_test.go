package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FairForge/loadstorm/internal/schedule"
	"github.com/FairForge/loadstorm/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFactory struct {
	calls atomic.Int64
	sleep time.Duration
	fail  bool
}

func (f *countingFactory) Create(id uint64) task.Task {
	return task.Func(func(ctx context.Context) (task.Result, error) {
		f.calls.Add(1)
		if f.sleep > 0 {
			select {
			case <-time.After(f.sleep):
			case <-ctx.Done():
			}
		}
		start := time.Now()
		if f.fail {
			return task.NewFailure(id, start, time.Now(), assertErr("boom")), nil
		}
		return task.NewSuccess(id, start, time.Now()), nil
	})
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func basePlan(factory task.Factory) Plan {
	return Plan{
		Name: "test",
		Schedule: schedule.Config{
			Shape:            schedule.ShapeLinear,
			StartConcurrency: 2,
			MaxConcurrency:   4,
			RampDuration:     100 * time.Millisecond,
		},
		SustainDuration: 200 * time.Millisecond,
		Factory:         factory,
		Mode:            ConcurrencyBounded,
		GraceTimeout:    2 * time.Second,
		ForceTimeout:    1 * time.Second,
	}
}

func TestRunner_ConcurrencyBoundedRunCompletes(t *testing.T) {
	factory := &countingFactory{}
	r, err := New(basePlan(factory), nil)
	require.NoError(t, err)

	err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, r.State())
	assert.Greater(t, factory.calls.Load(), int64(0))
	assert.Greater(t, r.Metrics().Snapshot().Total, int64(0))
}

func TestRunner_StopTransitionsToStopped(t *testing.T) {
	factory := &countingFactory{sleep: 10 * time.Millisecond}
	plan := basePlan(factory)
	plan.SustainDuration = 10 * time.Second
	r, err := New(plan, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	r.Stop(true)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after Stop")
	}
	assert.Equal(t, StateStopped, r.State())
}

func TestRunner_ContextCancellationFailsTheRun(t *testing.T) {
	factory := &countingFactory{sleep: 10 * time.Millisecond}
	plan := basePlan(factory)
	plan.SustainDuration = 10 * time.Second
	r, err := New(plan, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after context cancellation")
	}
	assert.Equal(t, StateFailed, r.State())
}

func TestRunner_RateLimitedModePacesSubmissions(t *testing.T) {
	factory := &countingFactory{}
	plan := Plan{
		Name: "rate",
		Schedule: schedule.Config{
			Shape:            schedule.ShapeLinear,
			StartConcurrency: 10,
			MaxConcurrency:   10,
			TargetTPS:        20,
		},
		SustainDuration: 300 * time.Millisecond,
		Factory:         factory,
		Mode:            RateLimited,
		GraceTimeout:    2 * time.Second,
		ForceTimeout:    1 * time.Second,
	}
	r, err := New(plan, nil)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, StateCompleted, r.State())

	calls := factory.calls.Load()
	assert.Greater(t, calls, int64(0))
	assert.Less(t, calls, int64(40))
}

type trackingFactory struct {
	calls       atomic.Int64
	warmupCalls atomic.Int64
	isWarmup    func() bool
}

func (f *trackingFactory) Create(id uint64) task.Task {
	return task.Func(func(ctx context.Context) (task.Result, error) {
		f.calls.Add(1)
		if f.isWarmup != nil && f.isWarmup() {
			f.warmupCalls.Add(1)
		}
		start := time.Now()
		return task.NewSuccess(id, start, time.Now()), nil
	})
}

func TestRunner_WarmupExcludedFromMeasuredMetrics(t *testing.T) {
	factory := &trackingFactory{}
	plan := basePlan(factory)
	plan.WarmupDuration = 100 * time.Millisecond
	r, err := New(plan, nil)
	require.NoError(t, err)
	factory.isWarmup = func() bool { return r.State() == StateWarmup }

	require.NoError(t, r.Run(context.Background()))

	assert.Greater(t, factory.warmupCalls.Load(), int64(0))
	snap := r.Metrics().Snapshot()
	assert.Equal(t, factory.calls.Load()-factory.warmupCalls.Load(), snap.Total)
}

func TestRunner_ProgressReachesOneOnCompletion(t *testing.T) {
	factory := &countingFactory{}
	r, err := New(basePlan(factory), nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, r.Progress())
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1.0, r.Progress())
}

func TestRunner_TaskFailuresAreRecordedAndRunContinues(t *testing.T) {
	factory := &countingFactory{fail: true}
	r, err := New(basePlan(factory), nil)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	snap := r.Metrics().Snapshot()
	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, snap.Total, snap.Failure)
	assert.Equal(t, int64(0), snap.Success)
}
