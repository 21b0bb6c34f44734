// Package worker implements the distributed worker node: it embeds a
// single-node execution engine/runner, accepts assignments from a
// controller over RPC, and streams heartbeats and metrics back to it.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/loadstorm/internal/rpc"
	"github.com/FairForge/loadstorm/internal/runner"
	"github.com/FairForge/loadstorm/internal/schedule"
	"github.com/FairForge/loadstorm/pkg/task"
	"go.uber.org/zap"
)

// DefaultHeartbeatInterval and DefaultMetricsPushInterval are the
// cadences the controller expects when nothing else is configured.
const (
	DefaultHeartbeatInterval   = 5 * time.Second
	DefaultMetricsPushInterval = 1 * time.Second
)

// Registry resolves a task kind and assignment parameters into a task
// factory. Task implementations themselves (HTTP, gRPC, database, ...)
// live outside this package; the worker only needs something that can
// produce one from an Assignment.
type Registry interface {
	Factory(taskType string, params map[string]string) (task.Factory, error)
}

// RegistryFunc adapts a function to Registry.
type RegistryFunc func(taskType string, params map[string]string) (task.Factory, error)

// Factory implements Registry.
func (f RegistryFunc) Factory(taskType string, params map[string]string) (task.Factory, error) {
	return f(taskType, params)
}

// Config configures a Node.
type Config struct {
	ID                  string
	Hostname            string
	MaxCapacity         int
	SupportedTaskTypes  []string
	Metadata            map[string]string
	HeartbeatInterval   time.Duration
	MetricsPushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MetricsPushInterval <= 0 {
		c.MetricsPushInterval = DefaultMetricsPushInterval
	}
	return c
}

type activeTest struct {
	run    *runner.Runner
	cancel context.CancelFunc
	done   chan struct{}
}

// Node is a worker: it satisfies rpc.WorkerService and drives its own
// heartbeat/metrics push loops against a controller client.
type Node struct {
	cfg        Config
	log        *zap.Logger
	registry   Registry
	controller *rpc.ControllerClient

	mu    sync.Mutex
	tests map[string]*activeTest

	overloaded atomic.Bool

	stopCh chan struct{}
	once   sync.Once
}

// New builds a Node. log may be nil.
func New(cfg Config, registry Registry, controller *rpc.ControllerClient, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		cfg:        cfg.withDefaults(),
		log:        log.Named("worker").With(zap.String("worker_id", cfg.ID)),
		registry:   registry,
		controller: controller,
		tests:      make(map[string]*activeTest),
		stopCh:     make(chan struct{}),
	}
}

// SetOverloaded toggles the worker's self-reported Overloaded health,
// surfaced to the controller on the next Heartbeat.
func (n *Node) SetOverloaded(v bool) { n.overloaded.Store(v) }

// Start launches the background heartbeat loop. It returns immediately;
// call Stop to end it.
func (n *Node) Start(ctx context.Context) {
	go n.heartbeatLoop(ctx)
}

// Stop ends the heartbeat loop. In-flight tests, and their metrics push
// loops, are left running; stop them individually via StopTest first if a
// clean shutdown is required.
func (n *Node) Stop() {
	n.once.Do(func() { close(n.stopCh) })
}

func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.sendHeartbeat(ctx)
		case <-n.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) sendHeartbeat(ctx context.Context) {
	if n.controller == nil {
		return
	}
	info := rpc.HeartbeatInfo{
		WorkerID:           n.cfg.ID,
		Hostname:           n.cfg.Hostname,
		MaxCapacity:        n.cfg.MaxCapacity,
		CurrentLoad:        n.currentLoad(),
		SupportedTaskTypes: n.cfg.SupportedTaskTypes,
		Metadata:           n.cfg.Metadata,
	}
	if n.overloaded.Load() {
		info.SelfReportedHealth = "overloaded"
	}
	if err := n.controller.Heartbeat(ctx, info); err != nil {
		n.log.Warn("heartbeat push failed", zap.Error(err))
	}
}

func (n *Node) currentLoad() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var total int
	for _, at := range n.tests {
		total += at.run.Engine().InFlight()
	}
	return total
}

// AssignTask implements rpc.WorkerService. It validates capacity, starts
// a local single-node runner for the assignment, and begins pushing
// metrics for it.
func (n *Node) AssignTask(ctx context.Context, a rpc.Assignment) (rpc.AssignResult, error) {
	factory, err := n.registry.Factory(a.TaskType, a.Parameters)
	if err != nil {
		return rpc.AssignResult{Accepted: false, Message: fmt.Sprintf("unsupported task type: %v", err)}, nil
	}

	if n.cfg.MaxCapacity > 0 && n.currentLoad()+a.MaxConcurrency > int(float64(n.cfg.MaxCapacity)*1.1) {
		return rpc.AssignResult{Accepted: false, Message: "over capacity"}, nil
	}

	mode := runner.ConcurrencyBounded
	if a.TargetTPS > 0 {
		mode = runner.Hybrid
	}

	sustain := a.Duration - a.RampDuration
	if sustain < 0 {
		sustain = 0
	}

	plan := runner.Plan{
		Name: a.TestID,
		Schedule: schedule.Config{
			Shape:            schedule.ShapeLinear,
			StartConcurrency: 1,
			MaxConcurrency:   a.MaxConcurrency,
			RampDuration:     a.RampDuration,
			TargetTPS:        a.TargetTPS,
			RampTPS:          a.RampDuration > 0,
		},
		SustainDuration: sustain,
		Factory:         factory,
		Mode:            mode,
	}

	r, err := runner.New(plan, n.log)
	if err != nil {
		return rpc.AssignResult{Accepted: false, Message: err.Error()}, nil
	}

	testCtx, cancel := context.WithCancel(context.Background())
	at := &activeTest{run: r, cancel: cancel, done: make(chan struct{})}

	n.mu.Lock()
	n.tests[a.TestID] = at
	n.mu.Unlock()

	go n.runTest(testCtx, a.TestID, at)
	go n.pushMetricsLoop(testCtx, a.TestID, at)

	estimate := estimateTaskCount(a)
	return rpc.AssignResult{Accepted: true, EstimatedCount: estimate}, nil
}

func estimateTaskCount(a rpc.Assignment) int64 {
	if a.TargetTPS > 0 {
		return int64(a.TargetTPS) * int64(a.Duration/time.Second)
	}
	return int64(a.MaxConcurrency) * int64(a.Duration/time.Second)
}

func (n *Node) runTest(ctx context.Context, testID string, at *activeTest) {
	defer close(at.done)
	if err := at.run.Run(ctx); err != nil {
		n.log.Error("test run ended in error", zap.String("test", testID), zap.Error(err))
	}
}

func (n *Node) pushMetricsLoop(ctx context.Context, testID string, at *activeTest) {
	if n.controller == nil {
		return
	}
	ticker := time.NewTicker(n.cfg.MetricsPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.pushOnce(ctx, testID, at)
		case <-at.done:
			n.pushOnce(ctx, testID, at)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) pushOnce(ctx context.Context, testID string, at *activeTest) {
	snap := at.run.Metrics().Snapshot()
	m := rpc.WorkerMetrics{
		WorkerID:    n.cfg.ID,
		TestID:      testID,
		Timestamp:   time.Now(),
		Total:       snap.Total,
		Success:     snap.Success,
		Failure:     snap.Failure,
		CurrentTPS:  snap.CurrentTPS,
		ActiveTasks: int64(at.run.Engine().InFlight()),
		Percentiles: rpc.PercentileBlock{
			P50:  snap.Percentiles[50],
			P75:  snap.Percentiles[75],
			P90:  snap.Percentiles[90],
			P95:  snap.Percentiles[95],
			P99:  snap.Percentiles[99],
			P999: at.run.Metrics().Percentile(99.9),
			Avg:  snap.AvgLatencyMs,
		},
	}
	m.Percentiles.Min = at.run.Metrics().Percentile(0)
	m.Percentiles.Max = at.run.Metrics().Percentile(100)

	if err := n.controller.PushMetrics(ctx, m); err != nil {
		n.log.Warn("metrics push failed", zap.String("test", testID), zap.Error(err))
	}
}

// StopTest implements rpc.WorkerService.
func (n *Node) StopTest(ctx context.Context, req rpc.StopRequest) (rpc.StopResult, error) {
	n.mu.Lock()
	at, ok := n.tests[req.TestID]
	n.mu.Unlock()
	if !ok {
		return rpc.StopResult{Stopped: true, Message: "test not running on this worker"}, nil
	}

	at.run.Stop(req.Graceful)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = rpc.DefaultTimeout
	}
	select {
	case <-at.done:
		return rpc.StopResult{Stopped: true}, nil
	case <-time.After(timeout):
		return rpc.StopResult{Stopped: false, Message: "timed out waiting for drain"}, nil
	case <-ctx.Done():
		return rpc.StopResult{Stopped: false, Message: ctx.Err().Error()}, nil
	}
}

var _ rpc.WorkerService = (*Node)(nil)
