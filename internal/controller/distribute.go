package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/FairForge/loadstorm/internal/errs"
	"github.com/FairForge/loadstorm/internal/rpc"
	"go.uber.org/zap"
)

// Share is one worker's slice of a distributed test.
type Share struct {
	WorkerID string
	TPS      int
	Accepted bool
	Message  string
}

// DistributeRequest describes a test to split across the worker pool.
type DistributeRequest struct {
	TestID         string
	TaskType       string
	TargetTPS      int
	Duration       time.Duration
	RampDuration   time.Duration
	MaxConcurrency int
	Parameters     map[string]string
}

// Distribute splits a test across the worker pool: filter to capable,
// healthy workers, split targetTPS proportional to available capacity
// (or evenly if no capacity info is available), and issue AssignTask to
// each selected worker in parallel. The test is considered started if at
// least one worker accepts; workers that reject are recorded but do not
// fail the whole distribution.
func (c *Controller) Distribute(ctx context.Context, req DistributeRequest) ([]Share, error) {
	candidates := c.eligibleWorkers(req.TaskType)
	if len(candidates) == 0 {
		return nil, errs.ErrDistribution(req.TaskType, "no healthy worker supports this task type")
	}

	shares := splitTPS(candidates, req.TargetTPS)

	assignCtx, cancel := context.WithTimeout(ctx, c.cfg.AssignTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i := range shares {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.assignOne(assignCtx, req, &shares[i])
		}(i)
	}
	wg.Wait()

	accepted := false
	assignedWorkers := make(map[string]struct{}, len(shares))
	for _, s := range shares {
		if s.Accepted {
			accepted = true
			assignedWorkers[s.WorkerID] = struct{}{}
		}
	}
	if !accepted {
		return shares, errs.ErrDistribution(req.TaskType, "every worker rejected the assignment")
	}

	c.testsMu.Lock()
	c.tests[req.TestID] = assignedWorkers
	c.latest[req.TestID] = make(map[string]rpc.WorkerMetrics)
	c.testsMu.Unlock()

	return shares, nil
}

func (c *Controller) assignOne(ctx context.Context, req DistributeRequest, s *Share) {
	c.mu.RLock()
	w, ok := c.workers[s.WorkerID]
	c.mu.RUnlock()
	if !ok || w.client == nil {
		s.Message = "worker not registered for RPC"
		return
	}

	resp, err := w.client.AssignTask(ctx, rpc.Assignment{
		TestID:         req.TestID,
		TaskType:       req.TaskType,
		TargetTPS:      s.TPS,
		Duration:       req.Duration,
		RampDuration:   req.RampDuration,
		MaxConcurrency: req.MaxConcurrency,
		Parameters:     req.Parameters,
		AssignedAt:     time.Now(),
	})
	if err != nil {
		c.log.Warn("assign failed", zap.String("worker", s.WorkerID), zap.Error(err))
		s.Message = err.Error()
		return
	}
	s.Accepted = resp.Accepted
	s.Message = resp.Message
}

// eligibleWorkers returns workers whose SupportedTaskTypes contains kind
// and whose health is Healthy or AtCapacity, sorted by id for determinism.
func (c *Controller) eligibleWorkers(kind string) []WorkerSnapshot {
	all := c.Workers()
	out := make([]WorkerSnapshot, 0, len(all))
	for _, w := range all {
		if w.Health != HealthHealthy && w.Health != HealthAtCapacity {
			continue
		}
		if !supports(w.SupportedTaskTypes, kind) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

func supports(types []string, kind string) bool {
	for _, t := range types {
		if t == kind {
			return true
		}
	}
	return false
}

// splitTPS implements step 3-4 of the distribution algorithm: proportional
// to available capacity, with an even split fallback when no worker
// reports spare capacity, and the remainder assigned to the last worker so
// the sum always equals targetTPS exactly.
func splitTPS(workers []WorkerSnapshot, targetTPS int) []Share {
	n := len(workers)
	shares := make([]Share, n)
	for i, w := range workers {
		shares[i].WorkerID = w.WorkerID
	}
	if n == 0 {
		return shares
	}

	avail := make([]int, n)
	var totalAvail int
	for i, w := range workers {
		a := w.MaxCapacity - w.CurrentLoad
		if a < 0 {
			a = 0
		}
		avail[i] = a
		totalAvail += a
	}

	if totalAvail == 0 {
		base := targetTPS / n
		for i := range shares {
			shares[i].TPS = base
		}
		shares[n-1].TPS += targetTPS - base*n
		return shares
	}

	var assigned int
	for i := 0; i < n-1; i++ {
		tps := int(roundFloat(float64(targetTPS) * float64(avail[i]) / float64(totalAvail)))
		shares[i].TPS = tps
		assigned += tps
	}
	shares[n-1].TPS = targetTPS - assigned
	return shares
}

func roundFloat(f float64) float64 {
	if f < 0 {
		return float64(int64(f - 0.5))
	}
	return float64(int64(f + 0.5))
}

// StopTest stops a distributed test across every worker it was assigned
// to, in parallel, with an overall timeout. Workers that don't confirm
// within the timeout are flagged Unhealthy.
func (c *Controller) StopTest(ctx context.Context, testID string, graceful bool) error {
	c.testsMu.RLock()
	workerIDs := make([]string, 0, len(c.tests[testID]))
	for id := range c.tests[testID] {
		workerIDs = append(workerIDs, id)
	}
	c.testsMu.RUnlock()

	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range workerIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.stopOne(stopCtx, id, testID, graceful)
		}(id)
	}
	wg.Wait()
	return nil
}

func (c *Controller) stopOne(ctx context.Context, workerID, testID string, graceful bool) {
	c.mu.RLock()
	w, ok := c.workers[workerID]
	c.mu.RUnlock()
	if !ok || w.client == nil {
		return
	}

	_, err := w.client.StopTest(ctx, rpc.StopRequest{TestID: testID, Graceful: graceful, Timeout: c.cfg.StopTimeout})
	if err != nil {
		c.log.Warn("stop did not confirm in time, marking unhealthy",
			zap.String("worker", workerID), zap.String("test", testID), zap.Error(err))
		w.mu.Lock()
		w.health = HealthUnhealthy
		w.mu.Unlock()
	}
}
