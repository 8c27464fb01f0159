package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/scheduler"
)

// AcceptAll accepts every result.
var AcceptAll = EvaluatorFunc(func(ctx context.Context, task scheduler.TaskView, result scheduler.TaskResult) (scheduler.EvaluationResult, error) {
	return scheduler.Accept(), nil
})

// NonEmptyOutput rejects unsuccessful results and results with blank output.
// It is the default evaluator.
var NonEmptyOutput = EvaluatorFunc(func(ctx context.Context, task scheduler.TaskView, result scheduler.TaskResult) (scheduler.EvaluationResult, error) {
	switch {
	case !result.Success:
		return scoredReject("task failed to execute", 0), nil
	case strings.TrimSpace(result.Output) == "":
		return scoredReject("task produced no output", 30), nil
	}
	score := 80.0
	return scheduler.EvaluationResult{Accepted: true, Score: &score}, nil
})

func scoredReject(feedback string, score float64) scheduler.EvaluationResult {
	ev := scheduler.Reject(feedback)
	ev.Score = &score
	ev.Issues = []string{feedback}
	return ev
}

// Reviewer evaluates results by asking another executor to review them.
// A review whose output starts with "ACCEPT" passes; anything else is
// returned verbatim as feedback.
type Reviewer struct {
	Executor Executor
	Role     scheduler.Role // Role reported to the reviewing executor
}

// NewReviewer creates a reviewer backed by exec.
func NewReviewer(exec Executor) *Reviewer {
	return &Reviewer{Executor: exec, Role: scheduler.RoleVerification}
}

func (r *Reviewer) Evaluate(ctx context.Context, task scheduler.TaskView, result scheduler.TaskResult) (scheduler.EvaluationResult, error) {
	review := scheduler.TaskView{
		ID:             task.ID + "-review",
		Name:           "Review: " + task.Name,
		Description:    fmt.Sprintf("Review the output of task %q.\n\nTask: %s\n\nOutput:\n%s", task.Name, task.Description, result.Output),
		ExpectedOutput: "ACCEPT, or a list of required changes",
		Role:           r.Role,
		Attempt:        task.Attempt,
	}
	if task.ExpectedOutput != "" {
		review.Description += "\n\nExpected: " + task.ExpectedOutput
	}

	res, err := r.Executor.Execute(ctx, review, scheduler.ResolvedContext{})
	if err != nil {
		return scheduler.EvaluationResult{}, fmt.Errorf("review of task %s: %w", task.ID, err)
	}
	verdict := strings.TrimSpace(res.Output)
	if strings.HasPrefix(strings.ToUpper(verdict), "ACCEPT") {
		return scheduler.Accept(), nil
	}
	if verdict == "" {
		verdict = "reviewer gave no verdict"
	}
	return scheduler.Reject(verdict), nil
}
