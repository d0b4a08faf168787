package scheduler

import "time"

// Status represents the current state of a task within a run.
type Status string

const (
	StatusPending   Status = "pending"   // waiting for dependencies
	StatusReady     Status = "ready"     // all dependencies terminal, awaiting dispatch
	StatusRunning   Status = "running"   // currently executing
	StatusSucceeded Status = "succeeded" // finished successfully
	StatusFailed    Status = "failed"    // finished with an error
	StatusSkipped   Status = "skipped"   // never dispatched
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// TaskResult is the per-task record accumulated into the run report.
type TaskResult struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Output     any       `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
	DurationMs int64     `json:"durationMs"`
}
