package events

import (
	"time"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	WorkflowID() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeTaskStarted           = "task.started"
	EventTypeTaskAttempted         = "task.attempted"
	EventTypeTaskRevisionRequested = "task.revision_requested"
	EventTypeTaskCompleted         = "task.completed"
	EventTypeTaskFailed            = "task.failed"
	EventTypeWorkflowCompleted     = "workflow.completed"
)

type taskEvent struct {
	Workflow string
	ID       string
}

func (e taskEvent) Topic() string      { return TopicTask }
func (e taskEvent) WorkflowID() string { return e.Workflow }
func (e taskEvent) TaskID() string     { return e.ID }

// TaskStartedEvent is published when an attempt is dispatched.
type TaskStartedEvent struct {
	taskEvent
	Name      string
	Role      scheduler.Role
	Attempt   int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }

// TaskAttemptedEvent is published when an executor produces a result.
type TaskAttemptedEvent struct {
	taskEvent
	Attempt     int
	Success     bool
	ExecutorID  string
	ErrorDetail string
	Timestamp   time.Time
}

func (e TaskAttemptedEvent) EventType() string { return EventTypeTaskAttempted }

// TaskRevisionRequestedEvent is published when an attempt is rejected and retried.
type TaskRevisionRequestedEvent struct {
	taskEvent
	Attempt   int
	Feedback  string
	Timestamp time.Time
}

func (e TaskRevisionRequestedEvent) EventType() string { return EventTypeTaskRevisionRequested }

// TaskCompletedEvent is published when a task is accepted.
type TaskCompletedEvent struct {
	taskEvent
	Attempts  int
	Output    string
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }

// TaskFailedEvent is published when a task fails, including by cascade.
type TaskFailedEvent struct {
	taskEvent
	Attempts  int
	Detail    string
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }

// WorkflowCompletedEvent is published once a run has been aggregated.
type WorkflowCompletedEvent struct {
	Workflow  string
	Status    scheduler.WorkflowStatus
	Completed int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

func (e WorkflowCompletedEvent) EventType() string  { return EventTypeWorkflowCompleted }
func (e WorkflowCompletedEvent) Topic() string      { return TopicWorkflow }
func (e WorkflowCompletedEvent) WorkflowID() string { return e.Workflow }
func (e WorkflowCompletedEvent) TaskID() string     { return "" }
