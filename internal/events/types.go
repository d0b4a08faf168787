package events

import "time"

// Topic constants
const (
	TopicRun  = "run"
	TopicTask = "task"
)

// Event is the base interface for all run and task lifecycle events.
type Event interface {
	EventType() string
	Topic() string
}

// Event type constants
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunFinished   = "run.finished"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskSucceeded = "task.succeeded"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskSkipped   = "task.skipped"
)

// RunStartedEvent is published once when a run begins.
type RunStartedEvent struct {
	RunID        string
	PipelineName string
	TaskCount    int
	Timestamp    time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) Topic() string     { return TopicRun }

// RunFinishedEvent is published once when the report is finalized.
type RunFinishedEvent struct {
	RunID         string
	PipelineName  string
	OverallStatus string
	Duration      time.Duration
	Timestamp     time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) Topic() string     { return TopicRun }

// TaskStartedEvent is published when a task transitions to running.
type TaskStartedEvent struct {
	RunID     string
	ID        string
	Type      string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Topic() string     { return TopicTask }

// TaskSucceededEvent is published when a task completes successfully.
type TaskSucceededEvent struct {
	RunID     string
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskSucceededEvent) EventType() string { return EventTypeTaskSucceeded }
func (e TaskSucceededEvent) Topic() string     { return TopicTask }

// TaskFailedEvent is published when a task fails, including timeouts and
// template resolution failures.
type TaskFailedEvent struct {
	RunID        string
	ID           string
	Err          error
	AllowFailure bool
	Timestamp    time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }

// TaskSkippedEvent is published when a task is marked skipped, either through
// a dependency failure cascade or a run abort.
type TaskSkippedEvent struct {
	RunID     string
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e TaskSkippedEvent) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkippedEvent) Topic() string     { return TopicTask }
