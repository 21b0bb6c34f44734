// Package rpc defines the wire contract between the distributed
// controller and its worker nodes, plus a length-prefixed gob transport
// for it. No protobuf/gRPC toolchain is available anywhere in this
// codebase's dependency stack, so the contract is expressed as plain Go
// structs exchanged over HTTP with gob bodies rather than a generated
// stub — the same "define the struct, encode it" approach the rest of
// this codebase uses for its internal wire formats.
package rpc

import "time"

// Assignment is what the controller sends a worker to start a local run.
type Assignment struct {
	TestID         string
	TaskType       string
	TargetTPS      int
	Duration       time.Duration
	RampDuration   time.Duration
	MaxConcurrency int
	Parameters     map[string]string
	AssignedAt     time.Time
}

// AssignResult is the worker's reply to AssignTask.
type AssignResult struct {
	Accepted       bool
	EstimatedCount int64
	Message        string
}

// StopRequest asks a worker to stop a running test.
type StopRequest struct {
	TestID   string
	Graceful bool
	Timeout  time.Duration
}

// StopResult is the worker's reply to StopTest.
type StopResult struct {
	Stopped bool
	Message string
}

// HeartbeatInfo is pushed periodically (default 5s) by a worker to the
// controller.
type HeartbeatInfo struct {
	WorkerID           string
	Hostname           string
	MaxCapacity        int
	CurrentLoad        int
	SupportedTaskTypes []string
	Metadata           map[string]string
	SelfReportedHealth string // "" unless the worker self-reports Overloaded
}

// PercentileBlock is the percentile summary carried in WorkerMetrics.
type PercentileBlock struct {
	P50, P75, P90, P95, P99, P999 float64
	Avg, Min, Max                 float64
}

// WorkerMetrics is pushed periodically (default 1s) by a worker while a
// test is active; it is the controller aggregator's sole input.
type WorkerMetrics struct {
	WorkerID    string
	TestID      string
	Timestamp   time.Time
	Total       int64
	Success     int64
	Failure     int64
	CurrentTPS  float64
	ActiveTasks int64
	Percentiles PercentileBlock
}

// Ack is a content-free reply used by the push endpoints (Heartbeat,
// PushMetrics), which have no meaningful return value beyond "received".
type Ack struct{}
