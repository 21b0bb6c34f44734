package metrics

import (
	"math/rand"
	"testing"
	"time"

	"github.com/FairForge/loadstorm/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkResult(id uint64, success bool, latency time.Duration, status int) task.Result {
	start := time.Now()
	r := task.NewSuccess(id, start, start.Add(latency))
	r.Success = success
	r.StatusCode = status
	if !success {
		r.ErrorClass = "boom"
	}
	return r
}

func TestCollector_FreshSnapshotIsZeroed(t *testing.T) {
	c := New(Config{}, nil)
	snap := c.Snapshot()

	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.Success)
	assert.Zero(t, snap.Failure)
	assert.Zero(t, snap.Percentiles[50])
}

func TestCollector_TotalEqualsSuccessPlusFailure(t *testing.T) {
	c := New(Config{}, nil)
	for i := uint64(0); i < 1000; i++ {
		success := i%10 != 0
		c.Record(mkResult(i, success, time.Millisecond, 200))
	}
	snap := c.Snapshot()
	require.Equal(t, snap.Total, snap.Success+snap.Failure)
	assert.Equal(t, int64(1000), snap.Total)
	assert.Equal(t, int64(900), snap.Success)
	assert.Equal(t, int64(100), snap.Failure)
}

func TestCollector_RecordCountMatchesSnapshotTotal(t *testing.T) {
	c := New(Config{}, nil)
	n := 500 + rand.Intn(500)
	for i := 0; i < n; i++ {
		c.Record(mkResult(uint64(i), true, time.Millisecond, 200))
	}
	assert.EqualValues(t, n, c.Snapshot().Total)
}

func TestCollector_ResetZeroes(t *testing.T) {
	c := New(Config{}, nil)
	for i := uint64(0); i < 100; i++ {
		c.Record(mkResult(i, true, time.Millisecond, 200))
	}
	c.Reset()
	snap := c.Snapshot()
	assert.Zero(t, snap.Total)
	assert.Empty(t, snap.StatusCodes)
	assert.Empty(t, snap.TopErrors)
}

func TestCollector_SnapshotIsReferentiallyTransparentBetweenRecords(t *testing.T) {
	c := New(Config{}, nil)
	for i := uint64(0); i < 50; i++ {
		c.Record(mkResult(i, true, time.Millisecond, 200))
	}
	s1 := c.Snapshot()
	s2 := c.Snapshot()
	assert.Equal(t, s1.Total, s2.Total)
	assert.Equal(t, s1.Success, s2.Success)
	assert.Equal(t, s1.Failure, s2.Failure)
}

func TestCollector_PercentilesMonotonic(t *testing.T) {
	c := New(Config{}, nil)
	for i := uint64(1); i <= 1000; i++ {
		c.Record(mkResult(i, true, time.Duration(i)*time.Millisecond, 200))
	}
	snap := c.Snapshot()
	prev := 0.0
	for _, p := range DefaultPercentiles {
		v := snap.Percentiles[p]
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestCollector_ErrorTableCapsAtMaxKeys(t *testing.T) {
	c := New(Config{}, nil)
	for i := 0; i < maxErrorKeys+200; i++ {
		r := mkResult(uint64(i), false, time.Millisecond, 500)
		r.ErrorClass = "class-" + time.Now().Add(time.Duration(i)).String()
		c.Record(r)
	}
	c.errMu.Lock()
	n := len(c.errors)
	c.errMu.Unlock()
	assert.LessOrEqual(t, n, maxErrorKeys)
}

func TestCollector_StatusHistogram(t *testing.T) {
	c := New(Config{}, nil)
	for i := 0; i < 10; i++ {
		c.Record(mkResult(uint64(i), true, time.Millisecond, 200))
	}
	for i := 10; i < 13; i++ {
		c.Record(mkResult(uint64(i), false, time.Millisecond, 500))
	}
	snap := c.Snapshot()
	assert.EqualValues(t, 10, snap.StatusCodes[200])
	assert.EqualValues(t, 3, snap.StatusCodes[500])
}

func TestCollector_RecentFallsBackToOverallWhenNoBucketData(t *testing.T) {
	c := New(Config{}, nil)
	snap := c.Recent(time.Second)
	assert.Zero(t, snap.Total)
}

func TestPercentile_LinearInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	// p50 over 4 samples: rank = 0.5*3 = 1.5 -> between idx1(20) and idx2(30)
	assert.InDelta(t, 25.0, percentile(sorted, 50), 0.001)
	assert.Equal(t, 10.0, percentile(sorted, 0))
	assert.Equal(t, 40.0, percentile(sorted, 100))
}

func TestLatencyRing_OverwritesOldest(t *testing.T) {
	r := newLatencyRing(4)
	for i := 0; i < 10; i++ {
		r.add(float64(i))
	}
	snap := r.snapshot()
	assert.Len(t, snap, 4)
	assert.ElementsMatch(t, []float64{6, 7, 8, 9}, snap)
}
