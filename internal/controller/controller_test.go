package controller

import (
	"testing"

	"github.com/FairForge/loadstorm/internal/rpc"
	"github.com/stretchr/testify/require"
)

func TestSplitTPSProportional(t *testing.T) {
	workers := []WorkerSnapshot{
		{WorkerID: "a", MaxCapacity: 10, CurrentLoad: 0},
		{WorkerID: "b", MaxCapacity: 20, CurrentLoad: 0},
		{WorkerID: "c", MaxCapacity: 70, CurrentLoad: 0},
	}
	shares := splitTPS(workers, 1000)

	require.Equal(t, 100, shares[0].TPS)
	require.Equal(t, 200, shares[1].TPS)
	require.Equal(t, 700, shares[2].TPS)

	var sum int
	for _, s := range shares {
		sum += s.TPS
	}
	require.Equal(t, 1000, sum)
}

func TestSplitTPSEvenWhenNoCapacity(t *testing.T) {
	workers := []WorkerSnapshot{
		{WorkerID: "a", MaxCapacity: 10, CurrentLoad: 10},
		{WorkerID: "b", MaxCapacity: 10, CurrentLoad: 10},
		{WorkerID: "c", MaxCapacity: 10, CurrentLoad: 10},
	}
	shares := splitTPS(workers, 100)

	var sum int
	for _, s := range shares {
		sum += s.TPS
	}
	require.Equal(t, 100, sum)
	require.Equal(t, shares[0].TPS, shares[1].TPS)
}

func TestClassifyHealth(t *testing.T) {
	require.Equal(t, HealthHealthy, classifyHealth(rpc.HeartbeatInfo{MaxCapacity: 10, CurrentLoad: 5}))
	require.Equal(t, HealthAtCapacity, classifyHealth(rpc.HeartbeatInfo{MaxCapacity: 10, CurrentLoad: 10}))
	require.Equal(t, HealthUnhealthy, classifyHealth(rpc.HeartbeatInfo{MaxCapacity: 10, CurrentLoad: 12}))
	require.Equal(t, HealthOverloaded, classifyHealth(rpc.HeartbeatInfo{MaxCapacity: 10, CurrentLoad: 1, SelfReportedHealth: "overloaded"}))
}

func TestAggregateWeightedByCount(t *testing.T) {
	c := New(Config{MinSampleCount: 1}, nil)
	c.testsMu.Lock()
	c.latest["t1"] = map[string]rpc.WorkerMetrics{
		"w1": {WorkerID: "w1", TestID: "t1", Total: 300, Success: 300, CurrentTPS: 300, Percentiles: rpc.PercentileBlock{P50: 10, Min: 1, Max: 50}},
		"w2": {WorkerID: "w2", TestID: "t1", Total: 700, Success: 690, Failure: 10, CurrentTPS: 700, Percentiles: rpc.PercentileBlock{P50: 20, Min: 2, Max: 90}},
	}
	c.testsMu.Unlock()

	agg, err := c.Aggregate("t1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), agg.Total)
	require.Equal(t, int64(990), agg.Success)
	require.InDelta(t, 1000.0, agg.TPS, 0.001)
	require.InDelta(t, 17.0, agg.Percentiles.P50, 0.001) // (10*300 + 20*700)/1000
	require.Equal(t, 1.0, agg.Percentiles.Min)
	require.Equal(t, 90.0, agg.Percentiles.Max)
}

func TestAggregateRefusesSmallSample(t *testing.T) {
	c := New(Config{MinSampleCount: 100}, nil)
	c.testsMu.Lock()
	c.latest["t1"] = map[string]rpc.WorkerMetrics{
		"w1": {WorkerID: "w1", TestID: "t1", Total: 5},
	}
	c.testsMu.Unlock()

	_, err := c.Aggregate("t1")
	require.Error(t, err)
}

func TestEligibleWorkersFiltersByTypeAndHealth(t *testing.T) {
	c := New(Config{}, nil)
	c.RegisterWorker("w1", "http://w1")
	c.RegisterWorker("w2", "http://w2")

	_ = c.Heartbeat(nil, rpc.HeartbeatInfo{WorkerID: "w1", MaxCapacity: 10, CurrentLoad: 0, SupportedTaskTypes: []string{"http"}})
	_ = c.Heartbeat(nil, rpc.HeartbeatInfo{WorkerID: "w2", MaxCapacity: 10, CurrentLoad: 20, SupportedTaskTypes: []string{"http"}})

	elig := c.eligibleWorkers("http")
	require.Len(t, elig, 1)
	require.Equal(t, "w1", elig[0].WorkerID)
}
