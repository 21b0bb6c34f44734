package metrics

import (
	"sort"
	"time"
)

// DefaultPercentiles is the percentile set computed eagerly on every
// Snapshot, per the metrics-core contract. Arbitrary percentiles remain
// available via Collector.Percentile.
var DefaultPercentiles = []float64{10, 25, 50, 75, 90, 95, 99}

// Snapshot is an immutable, point-in-time view of the metrics core. A
// Snapshot observed at t1 is unaffected by recordings that happen after t1.
type Snapshot struct {
	Total   int64
	Success int64
	Failure int64
	Elapsed time.Duration

	CurrentTPS float64
	OverallTPS float64

	AvgLatencyMs float64
	SuccessRate  float64
	AvgRespBytes float64

	Percentiles map[float64]float64
	StatusCodes map[int]int64
	TopErrors   []ErrorCount
}

// ErrorCount is one entry in the top-error-class frequency list.
type ErrorCount struct {
	Class string
	Count int64
}

// emptySnapshot returns the sentinel zero-value snapshot the contract requires
// instead of a failure when no data has been recorded.
func emptySnapshot() Snapshot {
	return Snapshot{
		Percentiles: percentileMap(nil, DefaultPercentiles),
		StatusCodes: map[int]int64{},
	}
}

// percentile computes p (0-100) over samples using nearest-rank with linear
// interpolation between the two surrounding samples. samples must already
// be sorted ascending. This exact interpolation choice is part of the
// contract: two conforming implementations must agree bit-for-bit on
// ranking given identical inputs.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := (p / 100) * float64(n-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func percentileMap(sorted []float64, ps []float64) map[float64]float64 {
	out := make(map[float64]float64, len(ps))
	for _, p := range ps {
		out[p] = percentile(sorted, p)
	}
	return out
}

func sortedCopy(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	sort.Float64s(out)
	return out
}
