package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Point identifies when an observer is called.
type Point string

const (
	// Workflow lifecycle
	BeforeWorkflowStart Point = "before_workflow_start"
	OnWorkflowComplete  Point = "on_workflow_complete"

	// Attempt lifecycle
	BeforeTaskExecute   Point = "before_task_execute"
	AfterTaskExecute    Point = "after_task_execute"
	BeforeEvaluate      Point = "before_evaluate"
	AfterEvaluate       Point = "after_evaluate"
	OnRevisionRequested Point = "on_revision_requested"
	OnTaskCompleted     Point = "on_task_completed"
	OnTaskFailed        Point = "on_task_failed"
)

// Points lists every hook point in lifecycle order.
var Points = []Point{
	BeforeWorkflowStart,
	BeforeTaskExecute,
	AfterTaskExecute,
	BeforeEvaluate,
	AfterEvaluate,
	OnRevisionRequested,
	OnTaskCompleted,
	OnTaskFailed,
	OnWorkflowComplete,
}

// Context is passed to observers. Observers receive a copy; only Instructions
// and Metadata changes are carried forward to later observers and the engine.
type Context struct {
	Point          Point
	WorkflowID     string
	Task           scheduler.TaskView // Zero for workflow-level points
	Attempt        int
	Instructions   []string
	Result         *scheduler.TaskResult
	Evaluation     *scheduler.EvaluationResult
	Feedback       string
	WorkflowResult *scheduler.WorkflowResult
	Metadata       map[string]string
}

func (c Context) clone() Context {
	cp := c
	if c.Instructions != nil {
		cp.Instructions = append([]string(nil), c.Instructions...)
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	if c.Task.Metadata != nil {
		cp.Task.Metadata = make(map[string]string, len(c.Task.Metadata))
		for k, v := range c.Task.Metadata {
			cp.Task.Metadata[k] = v
		}
	}
	if c.Result != nil {
		r := *c.Result
		cp.Result = &r
	}
	if c.Evaluation != nil {
		e := *c.Evaluation
		e.Issues = append([]string(nil), c.Evaluation.Issues...)
		e.Suggestions = append([]string(nil), c.Evaluation.Suggestions...)
		cp.Evaluation = &e
	}
	if c.WorkflowResult != nil {
		wr := *c.WorkflowResult
		wr.Outcomes = append([]scheduler.TaskOutcome(nil), c.WorkflowResult.Outcomes...)
		cp.WorkflowResult = &wr
	}
	return cp
}

// Observer is called at a hook point. A returned error drops the observer's
// changes; it never affects the task.
type Observer func(ctx context.Context, hctx Context) (Context, error)

type registration struct {
	name     string
	observer Observer
}

// Dispatcher runs observers in registration order. Safe for concurrent use.
type Dispatcher struct {
	mu        sync.RWMutex
	observers map[Point][]registration
	logger    *slog.Logger
}

// NewDispatcher creates an empty dispatcher. A nil logger uses slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		observers: make(map[Point][]registration),
		logger:    logger,
	}
}

// Register adds an observer for a point. The name shows up in logs.
func (d *Dispatcher) Register(point Point, name string, observer Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers[point] = append(d.observers[point], registration{name: name, observer: observer})
}

// Has checks if any observers are registered for a point.
func (d *Dispatcher) Has(point Point) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers[point]) > 0
}

// Clear removes all observers of a point.
func (d *Dispatcher) Clear(point Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.observers, point)
}

// Notify runs every observer registered for hctx.Point and returns the
// context with their accepted Instructions and Metadata changes.
func (d *Dispatcher) Notify(ctx context.Context, hctx Context) Context {
	d.mu.RLock()
	regs := append([]registration(nil), d.observers[hctx.Point]...)
	d.mu.RUnlock()

	current := hctx.clone()
	for _, reg := range regs {
		out, err := d.call(ctx, reg, current.clone())
		if err != nil {
			d.logger.Warn("hook observer failed",
				"point", string(hctx.Point),
				"observer", reg.name,
				"workflow_id", hctx.WorkflowID,
				"task_id", hctx.Task.ID,
				"error", err,
			)
			continue
		}
		current.Instructions = out.Instructions
		current.Metadata = out.Metadata
	}
	return current
}

func (d *Dispatcher) call(ctx context.Context, reg registration, hctx Context) (out Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return reg.observer(ctx, hctx)
}

// LoggingObserver logs every notification at debug level.
func LoggingObserver(logger *slog.Logger) Observer {
	return func(ctx context.Context, hctx Context) (Context, error) {
		attrs := []any{"point", string(hctx.Point), "workflow_id", hctx.WorkflowID}
		if hctx.Task.ID != "" {
			attrs = append(attrs, "task_id", hctx.Task.ID, "attempt", hctx.Attempt)
		}
		if hctx.Evaluation != nil {
			attrs = append(attrs, "accepted", hctx.Evaluation.Accepted)
		}
		if hctx.WorkflowResult != nil {
			attrs = append(attrs, "status", hctx.WorkflowResult.Status.String())
		}
		logger.DebugContext(ctx, "hook", attrs...)
		return hctx, nil
	}
}
