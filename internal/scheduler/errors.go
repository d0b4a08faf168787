package scheduler

import (
	"fmt"
	"time"
)

// TimeoutError is raised by the scheduler when a task's timeoutMs budget
// elapses before its executor returns.
type TimeoutError struct {
	TaskID string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out after %s", e.TaskID, e.Budget)
}

// SkippedDependencyError records why a task was never run: one of its
// dependencies (possibly transitive) failed without allowFailure.
type SkippedDependencyError struct {
	TaskID       string
	DependencyID string
}

func (e *SkippedDependencyError) Error() string {
	return fmt.Sprintf("task %q skipped: dependency %q did not succeed", e.TaskID, e.DependencyID)
}

// AbortedError records why an unrelated pending task was never dispatched:
// the run stopped dispatching after a fail-fast failure or a cancellation.
type AbortedError struct {
	TaskID string
	Cause  string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("task %q skipped: %s", e.TaskID, e.Cause)
}

// ExecutionError wraps whatever a task executor reported.
type ExecutionError struct {
	TaskID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
