// Package controller implements the distributed coordinator: it splits a
// single logical test across a pool of worker nodes proportional to their
// advertised capacity, collects their periodic metrics pushes, and
// aggregates them into a single view.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/FairForge/loadstorm/internal/rpc"
	"go.uber.org/zap"
)

// Health mirrors the worker health states from the data model.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthAtCapacity   Health = "at_capacity"
	HealthOverloaded   Health = "overloaded"
	HealthUnhealthy    Health = "unhealthy"
	HealthDisconnected Health = "disconnected"
)

// DefaultHeartbeatInterval is the cadence at which workers are expected
// to push Heartbeat; a worker is considered Disconnected after two
// missed beats.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultDisconnectAfter   = 2 * DefaultHeartbeatInterval
	// DefaultMinSampleCount bounds percentile aggregation against small-sample bias.
	DefaultMinSampleCount = 100
	// DefaultAssignTimeout bounds one AssignTask RPC call.
	DefaultAssignTimeout = 10 * time.Second
	// DefaultStopTimeout bounds the overall parallel StopTest fan-out.
	DefaultStopTimeout = 10 * time.Second
)

// workerEntry is the controller's bookkeeping for one registered worker.
type workerEntry struct {
	baseURL string
	client  *rpc.WorkerClient

	mu            sync.Mutex
	info          rpc.HeartbeatInfo
	health        Health
	lastHeartbeat time.Time
	registered    bool
}

// Config configures a Controller. Zero values fall back to the documented
// defaults.
type Config struct {
	HeartbeatInterval time.Duration
	DisconnectAfter   time.Duration
	MinSampleCount    int64
	AssignTimeout     time.Duration
	StopTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.DisconnectAfter <= 0 {
		c.DisconnectAfter = 2 * c.HeartbeatInterval
	}
	if c.MinSampleCount <= 0 {
		c.MinSampleCount = DefaultMinSampleCount
	}
	if c.AssignTimeout <= 0 {
		c.AssignTimeout = DefaultAssignTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Controller coordinates a pool of worker nodes for distributed tests. A
// single Controller instance is meant to live for the process lifetime of
// the coordinating node; concurrent tests are tracked by test id.
type Controller struct {
	cfg Config
	log *zap.Logger

	mu      sync.RWMutex
	workers map[string]*workerEntry

	testsMu sync.RWMutex
	// tests maps testID -> set of workerIDs assigned to it.
	tests map[string]map[string]struct{}
	// latest maps testID -> workerID -> most recent WorkerMetrics push.
	latest map[string]map[string]rpc.WorkerMetrics

	stopCh chan struct{}
	once   sync.Once
}

// New builds a Controller. log may be nil.
func New(cfg Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		cfg:     cfg.withDefaults(),
		log:     log.Named("controller"),
		workers: make(map[string]*workerEntry),
		tests:   make(map[string]map[string]struct{}),
		latest:  make(map[string]map[string]rpc.WorkerMetrics),
		stopCh:  make(chan struct{}),
	}
}

// RegisterWorker adds a worker to the pool at baseURL, reachable via RPC.
// The worker is considered Disconnected until its first Heartbeat arrives.
func (c *Controller) RegisterWorker(workerID, baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[workerID] = &workerEntry{
		baseURL: baseURL,
		client:  rpc.NewWorkerClient(baseURL, c.cfg.AssignTimeout),
		health:  HealthDisconnected,
	}
}

// Deregister removes a worker from the pool (explicit leave).
func (c *Controller) Deregister(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.workers, workerID)
}

// StartHealthSweep runs the periodic Disconnected/Unhealthy/AtCapacity
// health reclassification at cfg.HeartbeatInterval cadence until Stop is
// called.
func (c *Controller) StartHealthSweep() {
	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweepHealth()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends the health sweep goroutine.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}

func (c *Controller) sweepHealth() {
	c.mu.RLock()
	entries := make([]*workerEntry, 0, len(c.workers))
	for _, w := range c.workers {
		entries = append(entries, w)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, w := range entries {
		w.mu.Lock()
		if now.Sub(w.lastHeartbeat) > c.cfg.DisconnectAfter {
			w.health = HealthDisconnected
			w.mu.Unlock()
			continue
		}
		w.health = classifyHealth(w.info)
		w.mu.Unlock()
	}
}

func classifyHealth(info rpc.HeartbeatInfo) Health {
	if info.SelfReportedHealth == string(HealthOverloaded) {
		return HealthOverloaded
	}
	if info.MaxCapacity <= 0 {
		return HealthUnhealthy
	}
	load := float64(info.CurrentLoad)
	max := float64(info.MaxCapacity)
	switch {
	case load > max*1.1:
		return HealthUnhealthy
	case load >= max:
		return HealthAtCapacity
	default:
		return HealthHealthy
	}
}

// Heartbeat implements rpc.ControllerService: it records a worker's
// liveness/capacity push and reclassifies its health immediately.
func (c *Controller) Heartbeat(_ context.Context, info rpc.HeartbeatInfo) error {
	c.mu.RLock()
	w, ok := c.workers[info.WorkerID]
	c.mu.RUnlock()
	if !ok {
		// Auto-register workers that heartbeat without a prior explicit
		// RegisterWorker call (e.g. self-registration against a known
		// controller address); baseURL is left empty, which disables
		// AssignTask/StopTest calls to it until registered properly.
		c.mu.Lock()
		w = &workerEntry{health: HealthDisconnected}
		c.workers[info.WorkerID] = w
		c.mu.Unlock()
	}
	w.mu.Lock()
	w.info = info
	w.lastHeartbeat = time.Now()
	w.registered = true
	w.health = classifyHealth(info)
	w.mu.Unlock()
	return nil
}

// PushMetrics implements rpc.ControllerService: it records the worker's
// latest snapshot for its current test.
func (c *Controller) PushMetrics(_ context.Context, m rpc.WorkerMetrics) error {
	c.testsMu.Lock()
	defer c.testsMu.Unlock()
	byWorker, ok := c.latest[m.TestID]
	if !ok {
		byWorker = make(map[string]rpc.WorkerMetrics)
		c.latest[m.TestID] = byWorker
	}
	byWorker[m.WorkerID] = m
	return nil
}

// WorkerSnapshot is a read-only view of one worker's registry entry.
type WorkerSnapshot struct {
	WorkerID           string
	Hostname           string
	MaxCapacity        int
	CurrentLoad        int
	SupportedTaskTypes []string
	Health             Health
	LastHeartbeat      time.Time
}

// Workers returns a snapshot of every registered worker.
func (c *Controller) Workers() []WorkerSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]WorkerSnapshot, 0, len(c.workers))
	for id, w := range c.workers {
		w.mu.Lock()
		out = append(out, WorkerSnapshot{
			WorkerID:           id,
			Hostname:           w.info.Hostname,
			MaxCapacity:        w.info.MaxCapacity,
			CurrentLoad:        w.info.CurrentLoad,
			SupportedTaskTypes: w.info.SupportedTaskTypes,
			Health:             w.health,
			LastHeartbeat:      w.lastHeartbeat,
		})
		w.mu.Unlock()
	}
	return out
}
