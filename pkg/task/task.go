// Package task defines the unit-of-work abstraction driven by the engine.
package task

import (
	"context"
	"fmt"
	"time"
)

// maxErrorClassLen bounds the truncated error-class string carried on a Result.
const maxErrorClassLen = 100

// Task is a single, stateless unit of work. Implementations are expected to
// block on I/O for the duration of Execute and must be safe to invoke from
// any goroutine; the engine never calls Execute concurrently for the same
// Task value, but a Factory may be asked to produce many Tasks concurrently.
type Task interface {
	Execute(ctx context.Context) (Result, error)
}

// Func adapts a plain function to the Task interface.
type Func func(ctx context.Context) (Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context) (Result, error) { return f(ctx) }

// Factory creates a Task for a given monotonically increasing id. Create
// must be safe for concurrent invocation; the runner calls it once per
// submission, immediately before handing the Task to the engine.
type Factory interface {
	Create(id uint64) Task
}

// FactoryFunc adapts a plain function to the Factory interface.
type FactoryFunc func(id uint64) Task

// Create calls f.
func (f FactoryFunc) Create(id uint64) Task { return f(id) }

// Result is the immutable outcome of one Task invocation. Results are
// constructed exactly once, at task completion, and are never mutated
// afterward.
type Result struct {
	TaskID        uint64
	Start         time.Time
	End           time.Time
	Success       bool
	ErrorClass    string
	StatusCode    int
	ResponseBytes int64
	Tags          map[string]string
}

// Latency returns End minus Start.
func (r Result) Latency() time.Duration {
	return r.End.Sub(r.Start)
}

// NewSuccess builds a successful Result.
func NewSuccess(id uint64, start, end time.Time) Result {
	return Result{TaskID: id, Start: start, End: end, Success: true}
}

// NewFailure builds a failed Result from an error, truncating the error
// class to 100 characters so one misbehaving task cannot bloat the
// error table with huge messages.
func NewFailure(id uint64, start, end time.Time, err error) Result {
	return Result{
		TaskID:     id,
		Start:      start,
		End:        end,
		Success:    false,
		ErrorClass: truncateErrorClass(err),
	}
}

func truncateErrorClass(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	r := []rune(msg)
	if len(r) <= maxErrorClassLen {
		return msg
	}
	return string(r[:maxErrorClassLen])
}

// ErrCancelled is the ErrorClass recorded for tasks cancelled by an engine
// shutdown rather than failed by the task itself.
const ErrCancelled = "Cancelled"

// NewCancelled builds a Result for a task that never got to run, or was
// force-cancelled during shutdown.
func NewCancelled(id uint64, start, end time.Time) Result {
	return Result{TaskID: id, Start: start, End: end, Success: false, ErrorClass: ErrCancelled}
}

// String implements fmt.Stringer for readable log output.
func (r Result) String() string {
	status := "ok"
	if !r.Success {
		status = "fail:" + r.ErrorClass
	}
	return fmt.Sprintf("task#%d %s latency=%s", r.TaskID, status, r.Latency())
}
