package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aristath/taskflow/internal/hook"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Attempt outcomes, also used as metric labels.
const (
	outcomeAccepted       = "accepted"
	outcomeRejected       = "rejected"
	outcomeExecutionError = "execution_error"
)

// runTask drives one task through the correction loop until it is completed
// or failed, or until ctx is cancelled between attempts.
func (e *Engine) runTask(ctx context.Context, wf *scheduler.Workflow, taskID string) error {
	started := time.Now()
	for {
		task, err := wf.BeginAttempt(taskID)
		if err != nil {
			return fmt.Errorf("claim task %s: %w", taskID, err)
		}

		if terminal := e.attempt(ctx, wf, task); terminal {
			final, _ := wf.Task(taskID)
			e.metrics.ObserveTaskFinished(string(final.Role), final.Status.String(), string(final.Failure), time.Since(started))
			return nil
		}
		if ctx.Err() != nil {
			// Left in needs_revision; the run aggregates as partially completed.
			return nil
		}
	}
}

// attempt performs a single attempt of a claimed task and records its
// outcome. Returns true when the task reached a terminal status.
func (e *Engine) attempt(ctx context.Context, wf *scheduler.Workflow, task *scheduler.Task) bool {
	cfg := wf.Config()
	view := task.View()
	logger := e.logger.With(
		"workflow_id", wf.ID(),
		"task_id", task.ID,
		"role", string(task.Role),
		"attempt", task.Iteration,
	)

	deps, err := wf.ResolveContext(task.ID)
	if err != nil {
		logger.Error("resolve context", "error", err)
		e.metrics.ObserveAttempt(string(task.Role), outcomeExecutionError)
		e.fail(ctx, wf, task, view, scheduler.TaskResult{TaskID: task.ID, Timestamp: time.Now()}, scheduler.FailureExecution, err.Error(), logger)
		return true
	}
	rc := scheduler.ResolvedContext{
		Dependencies: deps,
		Feedback:     task.LatestFeedback(),
		Revisions:    task.Revisions,
	}

	before := e.hooks.Notify(ctx, hook.Context{
		Point:      hook.BeforeTaskExecute,
		WorkflowID: wf.ID(),
		Task:       view,
		Attempt:    task.Iteration,
		Feedback:   rc.Feedback,
	})
	rc.Instructions = before.Instructions
	for k, v := range before.Metadata {
		if view.Metadata == nil {
			view.Metadata = make(map[string]string)
		}
		view.Metadata[k] = v
	}

	logger.Debug("executing task", "dependencies", len(deps), "retry", rc.IsRetry())

	// An attempt in flight is allowed to finish when the run is cancelled.
	attemptCtx := context.WithoutCancel(ctx)
	result, execErr := e.execute(attemptCtx, view, rc)

	var (
		verdict scheduler.EvaluationResult
		kind    scheduler.FailureKind
		outcome string
	)
	if execErr != nil || !result.Success {
		detail := errorDetail(execErr, result)
		result.Success = false
		result.ErrorDetail = detail
		logger.Warn("task execution failed", "detail", detail)

		// No result was produced, so AfterTaskExecute is not fired.
		verdict = scheduler.Reject(detail)
		kind = scheduler.FailureExecution
		outcome = outcomeExecutionError
	} else {
		e.hooks.Notify(ctx, hook.Context{
			Point:      hook.AfterTaskExecute,
			WorkflowID: wf.ID(),
			Task:       view,
			Attempt:    task.Iteration,
			Result:     &result,
		})
		verdict = e.evaluate(attemptCtx, wf, view, result, cfg, logger)
		kind = scheduler.FailureRejected
		outcome = outcomeAccepted
		if !verdict.Accepted {
			outcome = outcomeRejected
		}
	}
	e.metrics.ObserveAttempt(string(task.Role), outcome)

	if verdict.Accepted {
		if err := wf.MarkCompleted(task.ID, result); err != nil {
			logger.Error("mark completed", "error", err)
		}
		logger.Info("task completed")
		e.hooks.Notify(ctx, hook.Context{
			Point:      hook.OnTaskCompleted,
			WorkflowID: wf.ID(),
			Task:       view,
			Attempt:    task.Iteration,
			Result:     &result,
			Evaluation: &verdict,
		})
		return true
	}

	if !cfg.EnableCorrectionLoop || task.Iteration >= cfg.MaxIterations {
		e.fail(ctx, wf, task, view, result, kind, verdict.Feedback, logger)
		return true
	}

	if err := wf.MarkNeedsRevision(task.ID, result, verdict.Feedback); err != nil {
		logger.Error("mark needs revision", "error", err)
		return true
	}
	e.metrics.IncCorrection(string(task.Role))
	logger.Info("revision requested", "feedback", verdict.Feedback)
	e.hooks.Notify(ctx, hook.Context{
		Point:      hook.OnRevisionRequested,
		WorkflowID: wf.ID(),
		Task:       view,
		Attempt:    task.Iteration,
		Result:     &result,
		Evaluation: &verdict,
		Feedback:   verdict.Feedback,
	})
	return false
}

// execute calls the role's executor and fills in result fields it left empty.
// A panicking executor is reported as an ExecutionError.
func (e *Engine) execute(ctx context.Context, view scheduler.TaskView, rc scheduler.ResolvedContext) (result scheduler.TaskResult, err error) {
	exec, ok := e.executors.Lookup(view.Role)
	if !ok {
		return scheduler.TaskResult{}, scheduler.NewExecutionError(fmt.Sprintf("no executor for role %s", view.Role), scheduler.ErrNoExecutor)
	}

	defer func() {
		if r := recover(); r != nil {
			result = scheduler.TaskResult{}
			err = scheduler.NewExecutionError(fmt.Sprintf("executor panic: %v", r), nil)
		}
		if result.TaskID == "" {
			result.TaskID = view.ID
		}
		if result.ExecutorID == "" {
			result.ExecutorID = string(view.Role)
		}
		if result.Timestamp.IsZero() {
			result.Timestamp = time.Now()
		}
	}()

	return exec.Execute(ctx, view, rc)
}

// judge calls the evaluator, turning a panic into an error.
func (e *Engine) judge(ctx context.Context, view scheduler.TaskView, result scheduler.TaskResult) (verdict scheduler.EvaluationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return e.evaluator.Evaluate(ctx, view, result)
}

func (e *Engine) evaluate(ctx context.Context, wf *scheduler.Workflow, view scheduler.TaskView, result scheduler.TaskResult, cfg scheduler.Config, logger *slog.Logger) scheduler.EvaluationResult {
	if !cfg.EnableEvaluation {
		return scheduler.Accept()
	}

	e.hooks.Notify(ctx, hook.Context{
		Point:      hook.BeforeEvaluate,
		WorkflowID: wf.ID(),
		Task:       view,
		Attempt:    view.Attempt,
		Result:     &result,
	})

	verdict, err := e.judge(ctx, view, result)
	if err != nil {
		logger.Warn("evaluator failed", "error", err)
		verdict = scheduler.Reject("evaluation error: " + err.Error())
	}

	e.hooks.Notify(ctx, hook.Context{
		Point:      hook.AfterEvaluate,
		WorkflowID: wf.ID(),
		Task:       view,
		Attempt:    view.Attempt,
		Result:     &result,
		Evaluation: &verdict,
		Feedback:   verdict.Feedback,
	})
	return verdict
}

func (e *Engine) fail(ctx context.Context, wf *scheduler.Workflow, task *scheduler.Task, view scheduler.TaskView, result scheduler.TaskResult, kind scheduler.FailureKind, feedback string, logger *slog.Logger) {
	if err := wf.MarkFailed(task.ID, result, kind, feedback); err != nil {
		logger.Error("mark failed", "error", err)
		return
	}
	logger.Warn("task failed", "failure", string(kind), "feedback", feedback)
	e.hooks.Notify(ctx, hook.Context{
		Point:      hook.OnTaskFailed,
		WorkflowID: wf.ID(),
		Task:       view,
		Attempt:    task.Iteration,
		Result:     &result,
		Feedback:   feedback,
	})
}

// errorDetail turns an executor failure into the feedback for the next attempt.
func errorDetail(err error, result scheduler.TaskResult) string {
	var execErr *scheduler.ExecutionError
	switch {
	case err == nil:
		if result.ErrorDetail != "" {
			return result.ErrorDetail
		}
		return "executor reported failure"
	case errors.As(err, &execErr):
		return execErr.Detail
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return err.Error()
	}
}
