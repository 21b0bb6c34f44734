package controller

import (
	"time"

	"github.com/FairForge/loadstorm/internal/errs"
	"github.com/FairForge/loadstorm/internal/rpc"
)

// AggregateSnapshot is the controller's unified view across every worker
// running a given distributed test. Percentile aggregation here is an
// approximation, not exact math: it weights each worker's reported
// percentile values by that worker's total request count rather than
// recomputing percentiles over the union of raw samples, because raw
// samples are not shipped over the wire. Shipping per-worker histograms
// would make this exact; the wire format leaves room for that.
type AggregateSnapshot struct {
	TestID      string
	Total       int64
	Success     int64
	Failure     int64
	SuccessRate float64
	TPS         float64
	ActiveTasks int64
	Percentiles rpc.PercentileBlock
	WorkerCount int
}

// Aggregate combines the latest WorkerMetrics pushes for testID. It
// refuses to aggregate (returning errs.InsufficientSampleError) if any
// contributing worker has reported fewer than cfg.MinSampleCount total
// requests, since weighting tiny samples skews the result badly.
func (c *Controller) Aggregate(testID string) (AggregateSnapshot, error) {
	c.testsMu.RLock()
	byWorker := c.latest[testID]
	snap := make(map[string]rpc.WorkerMetrics, len(byWorker))
	for id, m := range byWorker {
		snap[id] = m
	}
	c.testsMu.RUnlock()

	if len(snap) == 0 {
		return AggregateSnapshot{TestID: testID}, nil
	}

	for id, m := range snap {
		if m.Total < c.cfg.MinSampleCount {
			return AggregateSnapshot{}, errs.ErrInsufficientSample(id, m.Total, c.cfg.MinSampleCount)
		}
	}

	agg := AggregateSnapshot{TestID: testID, WorkerCount: len(snap)}
	var weightedP50, weightedP75, weightedP90, weightedP95, weightedP99, weightedP999, weightedAvg float64
	minLatency := float64(-1)
	maxLatency := float64(-1)

	for _, m := range snap {
		agg.Total += m.Total
		agg.Success += m.Success
		agg.Failure += m.Failure
		agg.TPS += m.CurrentTPS
		agg.ActiveTasks += m.ActiveTasks

		w := float64(m.Total)
		weightedP50 += m.Percentiles.P50 * w
		weightedP75 += m.Percentiles.P75 * w
		weightedP90 += m.Percentiles.P90 * w
		weightedP95 += m.Percentiles.P95 * w
		weightedP99 += m.Percentiles.P99 * w
		weightedP999 += m.Percentiles.P999 * w
		weightedAvg += m.Percentiles.Avg * w

		if minLatency < 0 || m.Percentiles.Min < minLatency {
			minLatency = m.Percentiles.Min
		}
		if m.Percentiles.Max > maxLatency {
			maxLatency = m.Percentiles.Max
		}
	}

	if agg.Total > 0 {
		total := float64(agg.Total)
		agg.Percentiles = rpc.PercentileBlock{
			P50:  weightedP50 / total,
			P75:  weightedP75 / total,
			P90:  weightedP90 / total,
			P95:  weightedP95 / total,
			P99:  weightedP99 / total,
			P999: weightedP999 / total,
			Avg:  weightedAvg / total,
			Min:  minLatency,
			Max:  maxLatency,
		}
		agg.SuccessRate = float64(agg.Success) / total
	}

	return agg, nil
}

// LastPushAge returns how long ago testID/workerID last pushed metrics, or
// false if nothing has been pushed yet.
func (c *Controller) LastPushAge(testID, workerID string) (time.Duration, bool) {
	c.testsMu.RLock()
	defer c.testsMu.RUnlock()
	m, ok := c.latest[testID][workerID]
	if !ok {
		return 0, false
	}
	return time.Since(m.Timestamp), true
}
