package scheduler

import "time"

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunReport is the finalized record of one pipeline run: one TaskResult per
// declared task, keyed by id, plus run-level timing and outcome. It is
// created when the run starts and finalized exactly once, when no task
// remains pending, ready or running.
type RunReport struct {
	RunID         string                 `json:"runId"`
	PipelineName  string                 `json:"pipelineName"`
	OverallStatus RunStatus              `json:"overallStatus"`
	Tasks         map[string]*TaskResult `json:"tasks"`
	StartedAt     time.Time              `json:"startedAt"`
	FinishedAt    time.Time              `json:"finishedAt"`
}
