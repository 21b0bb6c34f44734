package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearSchedule_Bounds(t *testing.T) {
	s := New(Config{
		Shape:            ShapeLinear,
		StartConcurrency: 5,
		MaxConcurrency:   50,
		RampDuration:     10 * time.Second,
	})

	assert.Equal(t, 5, s.TargetConcurrency(0))
	assert.Equal(t, 50, s.TargetConcurrency(20*time.Second))
	mid := s.TargetConcurrency(5 * time.Second)
	assert.InDelta(t, 27, mid, 1)
}

func TestLinearSchedule_Monotonic(t *testing.T) {
	s := New(Config{
		Shape:            ShapeLinear,
		StartConcurrency: 2,
		MaxConcurrency:   100,
		RampDuration:     30 * time.Second,
	})

	prev := s.TargetConcurrency(0)
	for i := 1; i <= 30; i++ {
		cur := s.TargetConcurrency(time.Duration(i) * time.Second)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestStepSchedule_IncreasesAtIntervals(t *testing.T) {
	s := New(Config{
		Shape:            ShapeStep,
		StartConcurrency: 10,
		MaxConcurrency:   40,
		StepSize:         10,
		StepInterval:     5 * time.Second,
	})

	assert.Equal(t, 10, s.TargetConcurrency(0))
	assert.Equal(t, 10, s.TargetConcurrency(4*time.Second))
	assert.Equal(t, 20, s.TargetConcurrency(5*time.Second))
	assert.Equal(t, 30, s.TargetConcurrency(10*time.Second))
	assert.Equal(t, 40, s.TargetConcurrency(15*time.Second))
	assert.Equal(t, 40, s.TargetConcurrency(100*time.Second))
}

func TestSpikeSchedule_HoldsThenSpikesThenReturns(t *testing.T) {
	s := New(Config{
		Shape:            ShapeSpike,
		StartConcurrency: 10,
		SpikeConcurrency: 200,
		SpikeStart:       5 * time.Second,
		SpikeDuration:    2 * time.Second,
	})

	assert.Equal(t, 10, s.TargetConcurrency(0))
	assert.Equal(t, 10, s.TargetConcurrency(4999*time.Millisecond))
	assert.Equal(t, 200, s.TargetConcurrency(5*time.Second))
	assert.Equal(t, 200, s.TargetConcurrency(6500*time.Millisecond))
	assert.Equal(t, 10, s.TargetConcurrency(7*time.Second))
	assert.Equal(t, 10, s.TargetConcurrency(30*time.Second))
}

func TestClampMin1_NeverReturnsLessThanOne(t *testing.T) {
	assert.Equal(t, 1, clampMin1(0))
	assert.Equal(t, 1, clampMin1(-5))
	assert.Equal(t, 3, clampMin1(3))
}

func TestRateClock_EvenlySpacedPermits(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewRateClock(Config{TargetTPS: 10}, start)

	first, ok := c.NextPermitInstant(start)
	require.True(t, ok)
	assert.Equal(t, start, first)

	second, ok := c.NextPermitInstant(start)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, second.Sub(first))

	third, ok := c.NextPermitInstant(start)
	require.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, third.Sub(first))
}

func TestRateClock_NoRateConfiguredReturnsNotOK(t *testing.T) {
	start := time.Now()
	c := NewRateClock(Config{}, start)

	_, ok := c.NextPermitInstant(start)
	assert.False(t, ok)
}

func TestRateClock_RollbackRestoresCounter(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewRateClock(Config{TargetTPS: 10}, start)

	before := c.Peek()
	_, ok := c.NextPermitInstant(start)
	require.True(t, ok)
	c.Rollback(int64(100 * time.Millisecond))
	assert.Equal(t, before, c.Peek())
}

func TestRateClock_RampsFromOneToTarget(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewRateClock(Config{TargetTPS: 100, RampTPS: true, RampDuration: 10 * time.Second}, start)

	assert.Equal(t, 1, c.currentTPS(0))
	assert.Equal(t, 100, c.currentTPS(10*time.Second))
	assert.Equal(t, 100, c.currentTPS(time.Minute))

	mid := c.currentTPS(5 * time.Second)
	assert.InDelta(t, 50, mid, 2)
}

func TestBurstSchedule_AllowRespectsLimit(t *testing.T) {
	start := time.Now()
	b := NewBurstSchedule(Config{TargetTPS: 1000}, start)

	allowed := 0
	for i := 0; i < 5; i++ {
		if b.Allow() {
			allowed++
		}
	}
	assert.Greater(t, allowed, 0)
}

func TestBurstSchedule_WaitRespectsContextCancellation(t *testing.T) {
	b := NewBurstSchedule(Config{TargetTPS: 1}, time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Drain the initial burst token synchronously, then the next Wait must
	// block past the context deadline.
	require.True(t, b.Allow())
	err := b.Wait(ctx)
	assert.Error(t, err)
}
