package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aristath/taskflow/internal/agent"
	"github.com/aristath/taskflow/internal/hook"
	"github.com/aristath/taskflow/internal/scheduler"
)

// call is one recorded executor invocation.
type call struct {
	TaskID  string
	Attempt int
	RC      scheduler.ResolvedContext
}

// mockExecutor records calls and delegates to an optional behavior.
type mockExecutor struct {
	mu       sync.Mutex
	calls    []call
	behavior func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error)
}

func (m *mockExecutor) Execute(ctx context.Context, task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{TaskID: task.ID, Attempt: task.Attempt, RC: rc})
	m.mu.Unlock()

	if m.behavior != nil {
		return m.behavior(task, rc)
	}
	return scheduler.TaskResult{Output: "output of " + task.ID, Success: true}, nil
}

func (m *mockExecutor) Calls() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

func (m *mockExecutor) CallsFor(taskID string) []call {
	var out []call
	for _, c := range m.Calls() {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out
}

// countingEvaluator counts evaluations per task and delegates to verdict.
type countingEvaluator struct {
	mu      sync.Mutex
	counts  map[string]int
	verdict func(task scheduler.TaskView, result scheduler.TaskResult) (scheduler.EvaluationResult, error)
}

func newCountingEvaluator(verdict func(scheduler.TaskView, scheduler.TaskResult) (scheduler.EvaluationResult, error)) *countingEvaluator {
	return &countingEvaluator{counts: make(map[string]int), verdict: verdict}
}

func (c *countingEvaluator) Evaluate(ctx context.Context, task scheduler.TaskView, result scheduler.TaskResult) (scheduler.EvaluationResult, error) {
	c.mu.Lock()
	c.counts[task.ID]++
	c.mu.Unlock()
	if c.verdict == nil {
		return scheduler.Accept(), nil
	}
	return c.verdict(task, result)
}

func (c *countingEvaluator) Count(taskID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[taskID]
}

func (c *countingEvaluator) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

func rejectAlways(feedback string) func(scheduler.TaskView, scheduler.TaskResult) (scheduler.EvaluationResult, error) {
	return func(scheduler.TaskView, scheduler.TaskResult) (scheduler.EvaluationResult, error) {
		return scheduler.Reject(feedback), nil
	}
}

type testEnv struct {
	engine   *Engine
	exec     *mockExecutor
	eval     *countingEvaluator
	hooks    *hook.Dispatcher
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, exec *mockExecutor, eval *countingEvaluator) *testEnv {
	t.Helper()
	if exec == nil {
		exec = &mockExecutor{}
	}
	if eval == nil {
		eval = newCountingEvaluator(nil)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	executors := agent.NewRegistry()
	for _, role := range []scheduler.Role{
		scheduler.RolePlanning,
		scheduler.RoleImplementation,
		scheduler.RoleVerification,
	} {
		executors.Register(role, exec)
	}

	reg := prometheus.NewRegistry()
	hooks := hook.NewDispatcher(logger)
	engine, err := New(Dependencies{
		Executors: executors,
		Evaluator: eval,
		Hooks:     hooks,
		Logger:    logger,
		Metrics:   MustNewMetrics(reg),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &testEnv{engine: engine, exec: exec, eval: eval, hooks: hooks, registry: reg}
}

func (env *testEnv) workflow(t *testing.T, cfg scheduler.Config) *scheduler.Workflow {
	t.Helper()
	wf, err := env.engine.CreateWorkflowWithConfig("test", "", cfg)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	return wf
}

func addTask(t *testing.T, wf *scheduler.Workflow, id string, deps ...string) {
	t.Helper()
	task := &scheduler.Task{ID: id, Name: id, Role: scheduler.RoleImplementation, ContextTaskIDs: deps}
	if err := wf.AddTask(task); err != nil {
		t.Fatalf("AddTask(%s) failed: %v", id, err)
	}
}

func taskOf(t *testing.T, wf *scheduler.Workflow, id string) *scheduler.Task {
	t.Helper()
	task, ok := wf.Task(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return task
}

func TestNew_RequiresRegistry(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatal("expected error without executor registry")
	}
	if _, err := New(Dependencies{Executors: agent.NewRegistry(), Defaults: scheduler.Config{MaxIterations: -1}}); err == nil {
		t.Fatal("expected error for invalid default config")
	}
}

// TestRun_DependenciesCompleteBeforeDispatch checks no task starts before its dependencies completed.
func TestRun_DependenciesCompleteBeforeDispatch(t *testing.T) {
	var wf *scheduler.Workflow
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		for _, depID := range taskOf(t, wf, task.ID).ContextTaskIDs {
			if dep := taskOf(t, wf, depID); dep.Status != scheduler.TaskCompleted {
				t.Errorf("%s dispatched while dependency %s is %s", task.ID, depID, dep.Status)
			}
		}
		return scheduler.TaskResult{Output: "output of " + task.ID, Success: true}, nil
	}
	env := newTestEnv(t, exec, nil)
	wf = env.workflow(t, scheduler.DefaultConfig())

	addTask(t, wf, "C", "B") // forward reference
	addTask(t, wf, "A")
	addTask(t, wf, "B", "A")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != scheduler.WorkflowCompleted || res.TasksCompleted != 3 {
		t.Fatalf("status=%s completed=%d", res.Status, res.TasksCompleted)
	}

	var order []string
	for _, c := range exec.Calls() {
		order = append(order, c.TaskID)
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(order, want) {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}

	cCall := exec.CallsFor("C")[0]
	if len(cCall.RC.Dependencies) != 1 || cCall.RC.Dependencies[0].TaskID != "B" || cCall.RC.Dependencies[0].Output != "output of B" {
		t.Errorf("C context = %+v", cCall.RC.Dependencies)
	}
}

// TestRun_IterationBoundedAndEqualsRevisions checks the retry budget and history length.
func TestRun_IterationBoundedAndEqualsRevisions(t *testing.T) {
	env := newTestEnv(t, nil, newCountingEvaluator(rejectAlways("not good enough")))
	cfg := scheduler.DefaultConfig()
	cfg.MaxIterations = 3
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	a := taskOf(t, wf, "A")
	if a.Status != scheduler.TaskFailed || a.Failure != scheduler.FailureRejected {
		t.Fatalf("A = %s/%s", a.Status, a.Failure)
	}
	if a.Iteration != 3 || len(a.Revisions) != 3 {
		t.Errorf("iteration=%d revisions=%d, want 3/3", a.Iteration, len(a.Revisions))
	}
	if a.FailureDetail != "not good enough" {
		t.Errorf("FailureDetail = %q", a.FailureDetail)
	}
	if res.Status != scheduler.WorkflowFailed || res.TotalIterations != 3 {
		t.Errorf("result status=%s iterations=%d", res.Status, res.TotalIterations)
	}

	calls := env.exec.CallsFor("A")
	if len(calls) != 3 {
		t.Fatalf("expected 3 executor calls, got %d", len(calls))
	}
	for i, c := range calls {
		if c.Attempt != i+1 {
			t.Errorf("call %d attempt = %d", i, c.Attempt)
		}
		if len(c.RC.Revisions) != i {
			t.Errorf("call %d saw %d revisions, want %d", i, len(c.RC.Revisions), i)
		}
	}
	if calls[0].RC.Feedback != "" || calls[1].RC.Feedback != "not good enough" {
		t.Errorf("feedback not carried: %q, %q", calls[0].RC.Feedback, calls[1].RC.Feedback)
	}
}

// TestRun_AcceptedNeverReevaluated checks an accepted task is evaluated exactly once.
func TestRun_AcceptedNeverReevaluated(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	wf := env.workflow(t, scheduler.DefaultConfig())
	addTask(t, wf, "A")
	addTask(t, wf, "B", "A")
	addTask(t, wf, "C", "A")

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, id := range []string{"A", "B", "C"} {
		if n := env.eval.Count(id); n != 1 {
			t.Errorf("%s evaluated %d times", id, n)
		}
		if got := taskOf(t, wf, id); got.Iteration != 1 || len(got.Revisions) != 1 || !got.Revisions[0].Accepted {
			t.Errorf("%s: iteration=%d revisions=%+v", id, got.Iteration, got.Revisions)
		}
	}
}

// TestRun_CascadeNeverCallsExecutor checks downstream tasks of a failure are failed without dispatch.
func TestRun_CascadeNeverCallsExecutor(t *testing.T) {
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		if task.ID == "A" {
			return scheduler.TaskResult{}, scheduler.NewExecutionError("disk full", nil)
		}
		return scheduler.TaskResult{Output: "ok", Success: true}, nil
	}
	env := newTestEnv(t, exec, nil)
	cfg := scheduler.DefaultConfig()
	cfg.MaxIterations = 2
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")
	addTask(t, wf, "B", "A")
	addTask(t, wf, "C", "B")
	addTask(t, wf, "D")

	var failedHooks []string
	env.hooks.Register(hook.OnTaskFailed, "recorder", func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
		failedHooks = append(failedHooks, hctx.Task.ID)
		return hctx, nil
	})

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if n := len(exec.CallsFor("B")) + len(exec.CallsFor("C")); n != 0 {
		t.Errorf("executor called %d times for cascaded tasks", n)
	}
	if n := env.eval.Total(); n != 1 {
		t.Errorf("evaluator called %d times, want 1 (only D)", n)
	}

	a := taskOf(t, wf, "A")
	if a.Failure != scheduler.FailureExecution || a.FailureDetail != "disk full" || a.Iteration != 2 {
		t.Errorf("A = %s %q iteration %d", a.Failure, a.FailureDetail, a.Iteration)
	}
	b := taskOf(t, wf, "B")
	c := taskOf(t, wf, "C")
	if b.Failure != scheduler.FailureCascade || b.CascadeFrom != "A" || b.Iteration != 0 {
		t.Errorf("B = %s from %q iteration %d", b.Failure, b.CascadeFrom, b.Iteration)
	}
	if c.Failure != scheduler.FailureCascade || c.CascadeFrom != "B" {
		t.Errorf("C = %s from %q", c.Failure, c.CascadeFrom)
	}
	if res.Status != scheduler.WorkflowPartiallyCompleted || res.TasksCompleted != 1 || res.TasksFailed != 3 {
		t.Errorf("result = %s completed=%d failed=%d", res.Status, res.TasksCompleted, res.TasksFailed)
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(failedHooks, want) {
		t.Errorf("on_task_failed hooks = %v, want %v", failedHooks, want)
	}
}

// TestRun_FailOnceThenSucceed checks an execution failure consumes one attempt and feeds back its detail.
func TestRun_FailOnceThenSucceed(t *testing.T) {
	var attempts atomic.Int32
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		if attempts.Add(1) == 1 {
			return scheduler.TaskResult{}, scheduler.NewExecutionError("flaky network", errors.New("connection reset"))
		}
		return scheduler.TaskResult{Output: "fixed", Success: true}, nil
	}
	env := newTestEnv(t, exec, nil)
	cfg := scheduler.DefaultConfig()
	cfg.MaxIterations = 2
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != scheduler.WorkflowCompleted {
		t.Fatalf("status = %s", res.Status)
	}

	a := taskOf(t, wf, "A")
	if a.Iteration != 2 || len(a.Revisions) != 2 {
		t.Fatalf("iteration=%d revisions=%d", a.Iteration, len(a.Revisions))
	}
	if a.Revisions[0].Accepted || a.Revisions[0].Feedback != "flaky network" || a.Revisions[0].Result.ErrorDetail != "flaky network" {
		t.Errorf("first revision = %+v", a.Revisions[0])
	}
	if calls := exec.CallsFor("A"); calls[1].RC.Feedback != "flaky network" {
		t.Errorf("second attempt feedback = %q", calls[1].RC.Feedback)
	}
	if n := env.eval.Count("A"); n != 1 {
		t.Errorf("evaluator called %d times, want 1 (execution failures bypass it)", n)
	}
	if out := res.Outcomes[0].Output; out != "fixed" {
		t.Errorf("outcome output = %q", out)
	}
}

func TestRun_UnsuccessfulResultIsExecutionFailure(t *testing.T) {
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		return scheduler.TaskResult{Success: false, ErrorDetail: "exit status 2"}, nil
	}
	env := newTestEnv(t, exec, nil)
	cfg := scheduler.DefaultConfig()
	cfg.MaxIterations = 1
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatal(err)
	}
	a := taskOf(t, wf, "A")
	if a.Failure != scheduler.FailureExecution || a.FailureDetail != "exit status 2" {
		t.Errorf("A = %s %q", a.Failure, a.FailureDetail)
	}
	if env.eval.Total() != 0 {
		t.Error("evaluator must be bypassed for unsuccessful results")
	}
}

// TestRun_EvaluationDisabled checks every result is accepted without consulting the evaluator.
func TestRun_EvaluationDisabled(t *testing.T) {
	env := newTestEnv(t, nil, newCountingEvaluator(rejectAlways("never")))
	cfg := scheduler.DefaultConfig()
	cfg.EnableEvaluation = false
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")
	addTask(t, wf, "B", "A")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.TasksCompleted != 2 || !res.Success {
		t.Errorf("completed=%d success=%v", res.TasksCompleted, res.Success)
	}
	if env.eval.Total() != 0 {
		t.Errorf("evaluator called %d times", env.eval.Total())
	}
}

// TestRun_CorrectionLoopDisabled checks a rejection fails the task after one attempt.
func TestRun_CorrectionLoopDisabled(t *testing.T) {
	env := newTestEnv(t, nil, newCountingEvaluator(rejectAlways("wrong")))
	cfg := scheduler.DefaultConfig()
	cfg.EnableCorrectionLoop = false
	cfg.MaxIterations = 5
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	a := taskOf(t, wf, "A")
	if a.Status != scheduler.TaskFailed || a.Iteration != 1 || len(a.Revisions) != 1 {
		t.Errorf("A = %s iteration=%d revisions=%d", a.Status, a.Iteration, len(a.Revisions))
	}
	if len(env.exec.Calls()) != 1 {
		t.Errorf("executor called %d times", len(env.exec.Calls()))
	}
}

func TestRun_EvaluatorErrorIsRejection(t *testing.T) {
	env := newTestEnv(t, nil, newCountingEvaluator(func(scheduler.TaskView, scheduler.TaskResult) (scheduler.EvaluationResult, error) {
		return scheduler.EvaluationResult{}, errors.New("judge unavailable")
	}))
	cfg := scheduler.DefaultConfig()
	cfg.MaxIterations = 1
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatal(err)
	}
	a := taskOf(t, wf, "A")
	if a.Failure != scheduler.FailureRejected || a.FailureDetail != "evaluation error: judge unavailable" {
		t.Errorf("A = %s %q", a.Failure, a.FailureDetail)
	}
}

// TestRun_ConfigurationErrors checks problems are reported before any attempt.
// TestRun_ExecutorPanicIsRejection checks a panicking executor fails the attempt instead of the run.
func TestRun_ExecutorPanicIsRejection(t *testing.T) {
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		panic("agent crashed")
	}
	env := newTestEnv(t, exec, nil)

	var failed, completed atomic.Int32
	env.hooks.Register(hook.OnTaskFailed, "failed", func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
		failed.Add(1)
		return hctx, nil
	})
	env.hooks.Register(hook.OnWorkflowComplete, "done", func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
		completed.Add(1)
		return hctx, nil
	})

	cfg := scheduler.DefaultConfig()
	cfg.MaxIterations = 2
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")
	addTask(t, wf, "B", "A")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != scheduler.WorkflowFailed || res.TasksFailed != 2 {
		t.Errorf("result = %s failed=%d", res.Status, res.TasksFailed)
	}
	a := taskOf(t, wf, "A")
	if a.Failure != scheduler.FailureExecution || a.FailureDetail != "executor panic: agent crashed" || a.Iteration != 2 {
		t.Errorf("A = %s %q iteration=%d", a.Failure, a.FailureDetail, a.Iteration)
	}
	if len(exec.CallsFor("A")) != 2 {
		t.Errorf("executor called %d times for A", len(exec.CallsFor("A")))
	}
	if env.eval.Total() != 0 {
		t.Error("evaluator must be bypassed for executor panics")
	}
	if failed.Load() != 2 || completed.Load() != 1 {
		t.Errorf("OnTaskFailed=%d OnWorkflowComplete=%d", failed.Load(), completed.Load())
	}
}

func TestRun_ExecutorPanicIsRejectionParallel(t *testing.T) {
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		if task.ID == "bad" {
			panic(fmt.Sprintf("nil map in %s", task.ID))
		}
		return scheduler.TaskResult{Output: "ok", Success: true}, nil
	}
	env := newTestEnv(t, exec, nil)
	cfg := scheduler.DefaultConfig()
	cfg.Mode = scheduler.ModeParallelEligible
	cfg.MaxIterations = 1
	wf := env.workflow(t, cfg)
	addTask(t, wf, "bad")
	addTask(t, wf, "good")
	addTask(t, wf, "after-good", "good")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != scheduler.WorkflowPartiallyCompleted || res.TasksCompleted != 2 || res.TasksFailed != 1 {
		t.Errorf("result = %s completed=%d failed=%d", res.Status, res.TasksCompleted, res.TasksFailed)
	}
	if bad := taskOf(t, wf, "bad"); bad.Failure != scheduler.FailureExecution || bad.FailureDetail != "executor panic: nil map in bad" {
		t.Errorf("bad = %s %q", bad.Failure, bad.FailureDetail)
	}
}

func TestRun_EvaluatorPanicIsRejection(t *testing.T) {
	env := newTestEnv(t, nil, newCountingEvaluator(func(scheduler.TaskView, scheduler.TaskResult) (scheduler.EvaluationResult, error) {
		panic("judge crashed")
	}))
	cfg := scheduler.DefaultConfig()
	cfg.MaxIterations = 1
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	a := taskOf(t, wf, "A")
	if a.Failure != scheduler.FailureRejected || a.FailureDetail != "evaluation error: evaluator panic: judge crashed" {
		t.Errorf("A = %s %q", a.Failure, a.FailureDetail)
	}
}

// TestRun_ExecutionErrorSkipsAfterTaskExecute checks AfterTaskExecute only fires when a result was produced.
func TestRun_ExecutionErrorSkipsAfterTaskExecute(t *testing.T) {
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		return scheduler.TaskResult{}, scheduler.NewExecutionError("boom", nil)
	}
	env := newTestEnv(t, exec, nil)

	var after, failed atomic.Int32
	env.hooks.Register(hook.AfterTaskExecute, "after", func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
		after.Add(1)
		return hctx, nil
	})
	env.hooks.Register(hook.OnTaskFailed, "failed", func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
		failed.Add(1)
		return hctx, nil
	})

	cfg := scheduler.DefaultConfig()
	cfg.MaxIterations = 2
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if after.Load() != 0 {
		t.Errorf("AfterTaskExecute fired %d times without a result", after.Load())
	}
	if failed.Load() != 1 {
		t.Errorf("OnTaskFailed fired %d times", failed.Load())
	}
	if a := taskOf(t, wf, "A"); a.FailureDetail != "boom" {
		t.Errorf("A detail = %q", a.FailureDetail)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	t.Run("cycle at add time", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		wf := env.workflow(t, scheduler.DefaultConfig())
		addTask(t, wf, "A", "B")
		err := wf.AddTask(&scheduler.Task{ID: "B", Role: scheduler.RoleImplementation, ContextTaskIDs: []string{"A"}})
		var cfgErr *scheduler.ConfigurationError
		if !errors.As(err, &cfgErr) || !errors.Is(err, scheduler.ErrCycle) {
			t.Fatalf("expected cycle ConfigurationError, got %v", err)
		}
	})

	t.Run("unknown dependency", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		wf := env.workflow(t, scheduler.DefaultConfig())
		addTask(t, wf, "A", "ghost")

		_, err := env.engine.Run(context.Background(), wf)
		if !errors.Is(err, scheduler.ErrUnknownDependency) {
			t.Fatalf("expected ErrUnknownDependency, got %v", err)
		}
		if len(env.exec.Calls()) != 0 || wf.Status() != scheduler.WorkflowCreated {
			t.Errorf("workflow touched: calls=%d status=%s", len(env.exec.Calls()), wf.Status())
		}
	})

	t.Run("no executor for role", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		wf := env.workflow(t, scheduler.DefaultConfig())
		addTask(t, wf, "A")
		if err := wf.AddTask(&scheduler.Task{ID: "docs", Role: scheduler.RoleDocumentation}); err != nil {
			t.Fatal(err)
		}

		_, err := env.engine.Run(context.Background(), wf)
		var cfgErr *scheduler.ConfigurationError
		if !errors.As(err, &cfgErr) || !errors.Is(err, scheduler.ErrNoExecutor) {
			t.Fatalf("expected ErrNoExecutor, got %v", err)
		}
		if !reflect.DeepEqual(cfgErr.TaskIDs, []string{"docs"}) {
			t.Errorf("TaskIDs = %v", cfgErr.TaskIDs)
		}
		if len(env.exec.Calls()) != 0 {
			t.Error("no task may be attempted")
		}
	})
}

func TestRun_RejectsSecondRun(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	wf := env.workflow(t, scheduler.DefaultConfig())
	addTask(t, wf, "A")

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.Run(context.Background(), wf); !errors.Is(err, scheduler.ErrWorkflowNotEditable) {
		t.Errorf("second Run: got %v", err)
	}
	if err := wf.AddTask(&scheduler.Task{ID: "late", Role: scheduler.RoleImplementation}); !errors.Is(err, scheduler.ErrWorkflowNotEditable) {
		t.Errorf("AddTask after run: got %v", err)
	}
}

func TestRun_EmptyWorkflowCompletes(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	wf := env.workflow(t, scheduler.DefaultConfig())

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != scheduler.WorkflowCompleted || !res.Success {
		t.Errorf("empty workflow status = %s", res.Status)
	}
}

// TestRun_PriorityOrder checks the sequential order is priority then insertion.
func TestRun_PriorityOrder(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	wf := env.workflow(t, scheduler.DefaultConfig())
	for _, tc := range []struct {
		id       string
		priority scheduler.Priority
	}{
		{"low", scheduler.PriorityLow},
		{"high-1", scheduler.PriorityHigh},
		{"medium", scheduler.PriorityMedium},
		{"high-2", scheduler.PriorityHigh},
	} {
		if err := wf.AddTask(&scheduler.Task{ID: tc.id, Role: scheduler.RolePlanning, Priority: tc.priority}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, c := range env.exec.Calls() {
		order = append(order, c.TaskID)
	}
	if want := []string{"high-1", "high-2", "medium", "low"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

// TestRun_HookSequence checks hook points fire in lifecycle order and instructions reach the executor.
func TestRun_HookSequence(t *testing.T) {
	env := newTestEnv(t, nil, newCountingEvaluator(func(task scheduler.TaskView, _ scheduler.TaskResult) (scheduler.EvaluationResult, error) {
		if task.Attempt == 1 {
			return scheduler.Reject("again"), nil
		}
		return scheduler.Accept(), nil
	}))

	var points []hook.Point
	for _, point := range hook.Points {
		env.hooks.Register(point, "recorder", func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
			points = append(points, hctx.Point)
			return hctx, nil
		})
	}
	env.hooks.Register(hook.BeforeTaskExecute, "instructor", func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
		hctx.Instructions = append(hctx.Instructions, "mind the style guide")
		return hctx, nil
	})
	env.hooks.Register(hook.AfterTaskExecute, "panicky", func(ctx context.Context, hctx hook.Context) (hook.Context, error) {
		panic("observer bug")
	})

	wf := env.workflow(t, scheduler.DefaultConfig())
	addTask(t, wf, "A")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != scheduler.WorkflowCompleted {
		t.Fatalf("status = %s", res.Status)
	}

	want := []hook.Point{
		hook.BeforeWorkflowStart,
		hook.BeforeTaskExecute, hook.AfterTaskExecute, hook.BeforeEvaluate, hook.AfterEvaluate, hook.OnRevisionRequested,
		hook.BeforeTaskExecute, hook.AfterTaskExecute, hook.BeforeEvaluate, hook.AfterEvaluate, hook.OnTaskCompleted,
		hook.OnWorkflowComplete,
	}
	if !reflect.DeepEqual(points, want) {
		t.Errorf("hook sequence = %v\nwant %v", points, want)
	}
	for _, c := range env.exec.Calls() {
		if !reflect.DeepEqual(c.RC.Instructions, []string{"mind the style guide"}) {
			t.Errorf("attempt %d instructions = %v", c.Attempt, c.RC.Instructions)
		}
	}
}

// TestRun_CancelStopsDispatch checks cancellation aggregates as partially completed.
func TestRun_CancelStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		if task.ID == "A" {
			cancel()
		}
		return scheduler.TaskResult{Output: "done", Success: true}, nil
	}
	env := newTestEnv(t, exec, nil)
	wf := env.workflow(t, scheduler.DefaultConfig())
	addTask(t, wf, "A")
	addTask(t, wf, "B", "A")

	res, err := env.engine.Run(ctx, wf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Status != scheduler.WorkflowPartiallyCompleted {
		t.Errorf("status = %s", res.Status)
	}
	if a := taskOf(t, wf, "A"); a.Status != scheduler.TaskCompleted {
		t.Errorf("in-flight task A = %s, want completed", a.Status)
	}
	if b := taskOf(t, wf, "B"); b.Status != scheduler.TaskPending {
		t.Errorf("B = %s, want pending", b.Status)
	}
}

func TestRun_MetricsRecorded(t *testing.T) {
	env := newTestEnv(t, nil, newCountingEvaluator(func(task scheduler.TaskView, _ scheduler.TaskResult) (scheduler.EvaluationResult, error) {
		if task.Attempt < 2 {
			return scheduler.Reject("more"), nil
		}
		return scheduler.Accept(), nil
	}))
	wf := env.workflow(t, scheduler.DefaultConfig())
	addTask(t, wf, "A")

	if _, err := env.engine.Run(context.Background(), wf); err != nil {
		t.Fatal(err)
	}

	m := env.engine.metrics
	role := string(scheduler.RoleImplementation)
	if got := testutil.ToFloat64(m.attempts.WithLabelValues(role, outcomeRejected)); got != 1 {
		t.Errorf("rejected attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues(role, outcomeAccepted)); got != 1 {
		t.Errorf("accepted attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.corrections.WithLabelValues(role)); got != 1 {
		t.Errorf("corrections = %v", got)
	}
	if got := testutil.ToFloat64(m.tasksFinished.WithLabelValues("completed", "none")); got != 1 {
		t.Errorf("tasks finished = %v", got)
	}
	if got := testutil.ToFloat64(m.workflowsActive); got != 0 {
		t.Errorf("workflows active = %v", got)
	}
}

func TestMustNewMetrics_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.IncCorrection("planning")
	if got := testutil.ToFloat64(second.corrections.WithLabelValues("planning")); got != 1 {
		t.Errorf("second instance sees %v corrections, want shared collector", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveAttempt("x", "y")
	nilMetrics.IncActiveWorkflows()
}

func TestRun_ParallelRunsIndependentTasksConcurrently(t *testing.T) {
	var active, maxActive atomic.Int32
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
		return scheduler.TaskResult{Output: "out " + task.ID, Success: true}, nil
	}
	env := newTestEnv(t, exec, nil)
	cfg := scheduler.DefaultConfig()
	cfg.Mode = scheduler.ModeParallelEligible
	cfg.MaxParallel = 3
	wf := env.workflow(t, cfg)
	addTask(t, wf, "A")
	addTask(t, wf, "B")
	addTask(t, wf, "C")
	addTask(t, wf, "D", "A", "B", "C")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != scheduler.WorkflowCompleted || res.TasksCompleted != 4 {
		t.Fatalf("status=%s completed=%d", res.Status, res.TasksCompleted)
	}
	if maxActive.Load() < 2 {
		t.Errorf("max concurrent executions = %d, want >= 2", maxActive.Load())
	}
	if maxActive.Load() > 3 {
		t.Errorf("max concurrent executions = %d exceeds limit 3", maxActive.Load())
	}

	calls := exec.Calls()
	if last := calls[len(calls)-1]; last.TaskID != "D" || len(last.RC.Dependencies) != 3 {
		t.Errorf("D must run last with 3 dependencies, got %s with %d", last.TaskID, len(last.RC.Dependencies))
	}

	var ids []string
	for _, o := range res.Outcomes {
		ids = append(ids, o.TaskID)
	}
	if want := []string{"A", "B", "C", "D"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("outcomes order = %v, want insertion order", ids)
	}
}

func TestRun_ParallelSerializesSharedResources(t *testing.T) {
	var active, maxActive atomic.Int32
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return scheduler.TaskResult{Output: "ok", Success: true}, nil
	}
	env := newTestEnv(t, exec, nil)
	cfg := scheduler.DefaultConfig()
	cfg.Mode = scheduler.ModeParallelEligible
	wf := env.workflow(t, cfg)
	for i := 0; i < 4; i++ {
		task := &scheduler.Task{ID: fmt.Sprintf("T%d", i), Role: scheduler.RoleImplementation, Resources: []string{"schema.sql"}}
		if err := wf.AddTask(task); err != nil {
			t.Fatal(err)
		}
	}

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}
	if res.TasksCompleted != 4 {
		t.Fatalf("completed = %d", res.TasksCompleted)
	}
	if maxActive.Load() != 1 {
		t.Errorf("tasks sharing a resource overlapped: max active = %d", maxActive.Load())
	}
}

func TestRun_ParallelCascade(t *testing.T) {
	exec := &mockExecutor{}
	exec.behavior = func(task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
		if task.ID == "bad" {
			return scheduler.TaskResult{}, errors.New("crashed")
		}
		return scheduler.TaskResult{Output: "ok", Success: true}, nil
	}
	env := newTestEnv(t, exec, nil)
	cfg := scheduler.DefaultConfig()
	cfg.Mode = scheduler.ModeParallelEligible
	cfg.MaxIterations = 2
	wf := env.workflow(t, cfg)
	addTask(t, wf, "bad")
	addTask(t, wf, "good")
	addTask(t, wf, "after-bad", "bad")
	addTask(t, wf, "after-good", "good")

	res, err := env.engine.Run(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != scheduler.WorkflowPartiallyCompleted || res.TasksCompleted != 2 || res.TasksFailed != 2 {
		t.Errorf("result = %s completed=%d failed=%d", res.Status, res.TasksCompleted, res.TasksFailed)
	}
	if len(exec.CallsFor("after-bad")) != 0 {
		t.Error("cascaded task was dispatched")
	}
	if bad := taskOf(t, wf, "bad"); bad.FailureDetail != "crashed" || bad.Iteration != 2 {
		t.Errorf("bad = %q iteration %d", bad.FailureDetail, bad.Iteration)
	}
}
