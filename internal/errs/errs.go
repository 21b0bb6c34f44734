// Package errs defines the typed error taxonomy shared by the runner,
// engine, and distributed coordinator, following the same
// struct-implements-error-plus-constructor-function idiom used for
// engine errors elsewhere in this codebase.
package errs

import "fmt"

// ConfigError reports a malformed or inconsistent test plan or server
// configuration, detected before a run starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// ErrConfig builds a ConfigError.
func ErrConfig(field, reason string) error {
	return ConfigError{Field: field, Reason: reason}
}

// TaskFailure wraps an error a task returned during execution, carrying
// the task id it was assigned.
type TaskFailure struct {
	TaskID uint64
	Err    error
}

func (e TaskFailure) Error() string {
	return fmt.Sprintf("task %d failed: %v", e.TaskID, e.Err)
}

func (e TaskFailure) Unwrap() error { return e.Err }

// ErrTaskFailure builds a TaskFailure.
func ErrTaskFailure(taskID uint64, err error) error {
	return TaskFailure{TaskID: taskID, Err: err}
}

// CancelledError reports a task or submission that was cancelled before
// completion, distinct from a task-level failure.
type CancelledError struct {
	TaskID uint64
	Reason string
}

func (e CancelledError) Error() string {
	return fmt.Sprintf("task %d cancelled: %s", e.TaskID, e.Reason)
}

// ErrCancelled builds a CancelledError.
func ErrCancelled(taskID uint64, reason string) error {
	return CancelledError{TaskID: taskID, Reason: reason}
}

// SchedulerError reports an unexpected failure in the runner's control
// loop; the runner transitions to Failed and drains on this error.
type SchedulerError struct {
	Phase string
	Err   error
}

func (e SchedulerError) Error() string {
	return fmt.Sprintf("scheduler error during %s: %v", e.Phase, e.Err)
}

func (e SchedulerError) Unwrap() error { return e.Err }

// ErrScheduler builds a SchedulerError.
func ErrScheduler(phase string, err error) error {
	return SchedulerError{Phase: phase, Err: err}
}

// DistributionError reports that the controller could not split a test
// across the available worker pool.
type DistributionError struct {
	TaskType string
	Reason   string
}

func (e DistributionError) Error() string {
	return fmt.Sprintf("distribution failed for task type %q: %s", e.TaskType, e.Reason)
}

// ErrDistribution builds a DistributionError.
func ErrDistribution(taskType, reason string) error {
	return DistributionError{TaskType: taskType, Reason: reason}
}

// WorkerUnreachableError reports that an RPC to a worker failed outright
// (connection refused, timeout) as opposed to the worker rejecting the
// call.
type WorkerUnreachableError struct {
	WorkerID string
	Err      error
}

func (e WorkerUnreachableError) Error() string {
	return fmt.Sprintf("worker %s unreachable: %v", e.WorkerID, e.Err)
}

func (e WorkerUnreachableError) Unwrap() error { return e.Err }

// ErrWorkerUnreachable builds a WorkerUnreachableError.
func ErrWorkerUnreachable(workerID string, err error) error {
	return WorkerUnreachableError{WorkerID: workerID, Err: err}
}

// InsufficientSampleError reports that the controller refused to
// aggregate percentile data because a worker's sample count fell below
// the configured minimum, per the documented small-sample-bias guard.
type InsufficientSampleError struct {
	WorkerID string
	Count    int64
	Minimum  int64
}

func (e InsufficientSampleError) Error() string {
	return fmt.Sprintf("worker %s reported %d samples, below minimum %d", e.WorkerID, e.Count, e.Minimum)
}

// ErrInsufficientSample builds an InsufficientSampleError.
func ErrInsufficientSample(workerID string, count, minimum int64) error {
	return InsufficientSampleError{WorkerID: workerID, Count: count, Minimum: minimum}
}
