package events

import (
	"context"
	"time"

	"github.com/aristath/taskflow/internal/hook"
)

// Bridge registers observers on d that publish engine lifecycle events to bus.
func Bridge(bus *EventBus, d *hook.Dispatcher) {
	publish := func(build func(hctx hook.Context) Event) hook.Observer {
		return func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
			bus.Publish(build(hctx))
			return hctx, nil
		}
	}

	d.Register(hook.BeforeTaskExecute, "events", publish(func(hctx hook.Context) Event {
		return TaskStartedEvent{
			taskEvent: taskEvent{Workflow: hctx.WorkflowID, ID: hctx.Task.ID},
			Name:      hctx.Task.Name,
			Role:      hctx.Task.Role,
			Attempt:   hctx.Attempt,
			Timestamp: time.Now(),
		}
	}))

	d.Register(hook.AfterTaskExecute, "events", publish(func(hctx hook.Context) Event {
		ev := TaskAttemptedEvent{
			taskEvent: taskEvent{Workflow: hctx.WorkflowID, ID: hctx.Task.ID},
			Attempt:   hctx.Attempt,
			Timestamp: time.Now(),
		}
		if hctx.Result != nil {
			ev.Success = hctx.Result.Success
			ev.ExecutorID = hctx.Result.ExecutorID
			ev.ErrorDetail = hctx.Result.ErrorDetail
		}
		return ev
	}))

	d.Register(hook.OnRevisionRequested, "events", publish(func(hctx hook.Context) Event {
		return TaskRevisionRequestedEvent{
			taskEvent: taskEvent{Workflow: hctx.WorkflowID, ID: hctx.Task.ID},
			Attempt:   hctx.Attempt,
			Feedback:  hctx.Feedback,
			Timestamp: time.Now(),
		}
	}))

	d.Register(hook.OnTaskCompleted, "events", publish(func(hctx hook.Context) Event {
		ev := TaskCompletedEvent{
			taskEvent: taskEvent{Workflow: hctx.WorkflowID, ID: hctx.Task.ID},
			Attempts:  hctx.Attempt,
			Timestamp: time.Now(),
		}
		if hctx.Result != nil {
			ev.Output = hctx.Result.Output
		}
		return ev
	}))

	d.Register(hook.OnTaskFailed, "events", publish(func(hctx hook.Context) Event {
		return TaskFailedEvent{
			taskEvent: taskEvent{Workflow: hctx.WorkflowID, ID: hctx.Task.ID},
			Attempts:  hctx.Attempt,
			Detail:    hctx.Feedback,
			Timestamp: time.Now(),
		}
	}))

	d.Register(hook.OnWorkflowComplete, "events", publish(func(hctx hook.Context) Event {
		ev := WorkflowCompletedEvent{Workflow: hctx.WorkflowID, Timestamp: time.Now()}
		if r := hctx.WorkflowResult; r != nil {
			ev.Status = r.Status
			ev.Completed = r.TasksCompleted
			ev.Failed = r.TasksFailed
			ev.Duration = r.Duration
		}
		return ev
	}))
}
