// Package orchestrator runs workflows: it dispatches eligible tasks to the
// executor registered for their role, evaluates results and drives the
// correction loop until every task is completed or failed.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aristath/taskflow/internal/agent"
	"github.com/aristath/taskflow/internal/hook"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Notifier receives lifecycle notifications. *hook.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, hctx hook.Context) hook.Context
}

type noopNotifier struct{}

func (noopNotifier) Notify(_ context.Context, hctx hook.Context) hook.Context { return hctx }

// Dependencies are the collaborators an Engine is built from.
type Dependencies struct {
	Executors *agent.Registry  // Required
	Evaluator agent.Evaluator  // Defaults to agent.NonEmptyOutput
	Hooks     Notifier         // Optional
	Logger    *slog.Logger     // Defaults to slog.Default()
	Metrics   *Metrics         // Optional
	Defaults  scheduler.Config // Config for CreateWorkflow; zero means scheduler.DefaultConfig()
}

// Engine executes workflows. One engine may run several workflows concurrently.
type Engine struct {
	executors *agent.Registry
	evaluator agent.Evaluator
	hooks     Notifier
	logger    *slog.Logger
	metrics   *Metrics
	defaults  scheduler.Config
	locks     *scheduler.ResourceLocks
}

// New creates an engine.
func New(deps Dependencies) (*Engine, error) {
	if deps.Executors == nil {
		return nil, fmt.Errorf("orchestrator: executor registry is required")
	}
	if deps.Evaluator == nil {
		deps.Evaluator = agent.NonEmptyOutput
	}
	if deps.Hooks == nil {
		deps.Hooks = noopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Defaults == (scheduler.Config{}) {
		deps.Defaults = scheduler.DefaultConfig()
	}
	if err := deps.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: default config: %w", err)
	}

	return &Engine{
		executors: deps.Executors,
		evaluator: deps.Evaluator,
		hooks:     deps.Hooks,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		defaults:  deps.Defaults,
		locks:     scheduler.NewResourceLocks(),
	}, nil
}

// CreateWorkflow creates an empty workflow with the engine's default config.
func (e *Engine) CreateWorkflow(name, description string) (*scheduler.Workflow, error) {
	return scheduler.NewWorkflow(name, description, e.defaults)
}

// CreateWorkflowWithConfig creates an empty workflow with its own config.
func (e *Engine) CreateWorkflowWithConfig(name, description string, cfg scheduler.Config) (*scheduler.Workflow, error) {
	return scheduler.NewWorkflow(name, description, cfg)
}

// Run executes wf to completion and returns the aggregate result.
//
// Configuration problems (unknown dependency, cycle, no executor for a role)
// are returned as *scheduler.ConfigurationError before any task is attempted.
// Task failures are never returned as errors; they are in the result.
// Cancelling ctx stops dispatching new attempts; Run then returns the
// partial result together with ctx.Err().
func (e *Engine) Run(ctx context.Context, wf *scheduler.Workflow) (scheduler.WorkflowResult, error) {
	if _, err := wf.Validate(); err != nil {
		return scheduler.WorkflowResult{}, err
	}
	if err := e.checkExecutors(wf); err != nil {
		return scheduler.WorkflowResult{}, err
	}
	if err := wf.Start(); err != nil {
		return scheduler.WorkflowResult{}, err
	}

	cfg := wf.Config()
	logger := e.logger.With("workflow_id", wf.ID())
	logger.Info("workflow started",
		"name", wf.Name(),
		"tasks", wf.Len(),
		"mode", string(cfg.Mode),
		"max_iterations", cfg.MaxIterations,
	)

	e.metrics.IncActiveWorkflows()
	defer e.metrics.DecActiveWorkflows()

	e.hooks.Notify(ctx, hook.Context{
		Point:      hook.BeforeWorkflowStart,
		WorkflowID: wf.ID(),
		Metadata:   wf.Metadata(),
	})

	var runErr error
	if cfg.Mode == scheduler.ModeParallelEligible {
		runErr = e.runParallel(ctx, wf)
	} else {
		runErr = e.runSequential(ctx, wf)
	}

	result := wf.Finish()
	e.hooks.Notify(ctx, hook.Context{
		Point:          hook.OnWorkflowComplete,
		WorkflowID:     wf.ID(),
		WorkflowResult: &result,
		Metadata:       wf.Metadata(),
	})

	logger.Info("workflow finished",
		"status", result.Status.String(),
		"completed", result.TasksCompleted,
		"failed", result.TasksFailed,
		"iterations", result.TotalIterations,
		"duration", result.Duration,
	)
	return result, runErr
}

func (e *Engine) checkExecutors(wf *scheduler.Workflow) error {
	missing := e.executors.Missing(wf.Roles())
	if len(missing) == 0 {
		return nil
	}

	names := make([]string, len(missing))
	lacking := make(map[scheduler.Role]bool, len(missing))
	for i, role := range missing {
		names[i] = string(role)
		lacking[role] = true
	}
	var taskIDs []string
	for _, task := range wf.Tasks() {
		if lacking[task.Role] {
			taskIDs = append(taskIDs, task.ID)
		}
	}
	return &scheduler.ConfigurationError{
		Err:     scheduler.ErrNoExecutor,
		TaskIDs: taskIDs,
		Detail:  strings.Join(names, ", "),
	}
}

// runSequential runs one task at a time, always the first eligible one, so
// the order is a pure function of the graph, priorities and insertion order.
func (e *Engine) runSequential(ctx context.Context, wf *scheduler.Workflow) error {
	for {
		e.cascade(ctx, wf)
		if err := ctx.Err(); err != nil {
			return err
		}

		eligible := wf.Eligible()
		if len(eligible) == 0 {
			return nil
		}
		if err := e.runTask(ctx, wf, eligible[0].ID); err != nil {
			return err
		}
	}
}

// cascade fails every task downstream of a failure and reports each one.
func (e *Engine) cascade(ctx context.Context, wf *scheduler.Workflow) {
	for _, task := range wf.PropagateFailures() {
		e.logger.Warn("task failed by cascade",
			"workflow_id", wf.ID(),
			"task_id", task.ID,
			"role", string(task.Role),
			"cascade_from", task.CascadeFrom,
		)
		e.metrics.ObserveTaskFinished(string(task.Role), task.Status.String(), string(task.Failure), 0)
		e.hooks.Notify(ctx, hook.Context{
			Point:      hook.OnTaskFailed,
			WorkflowID: wf.ID(),
			Task:       task.View(),
			Feedback:   task.FailureDetail,
		})
	}
}
