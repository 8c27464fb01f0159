package scheduler

import "time"

// TaskResult is what an executor produced for a single attempt.
type TaskResult struct {
	TaskID      string    `json:"task_id" yaml:"task_id"`
	Output      string    `json:"output" yaml:"output"`
	Success     bool      `json:"success" yaml:"success"`
	ExecutorID  string    `json:"executor_id,omitempty" yaml:"executor_id,omitempty"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	ErrorDetail string    `json:"error_detail,omitempty" yaml:"error_detail,omitempty"`
}

// EvaluationResult is an evaluator's verdict on a TaskResult.
// Score is carried through untouched; the engine never reads it.
type EvaluationResult struct {
	Accepted    bool     `json:"accepted"`
	Feedback    string   `json:"feedback,omitempty"`
	Score       *float64 `json:"score,omitempty"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Accept builds a passing verdict.
func Accept() EvaluationResult {
	return EvaluationResult{Accepted: true}
}

// Reject builds a failing verdict with the given feedback.
func Reject(feedback string) EvaluationResult {
	return EvaluationResult{Accepted: false, Feedback: feedback}
}

// TaskView is the snapshot of a task passed to executors and hook observers.
type TaskView struct {
	ID             string
	Name           string
	Description    string
	ExpectedOutput string
	Role           Role
	Attempt        int // 1-based number of the attempt being made
	Metadata       map[string]string
}

// ContextEntry is one dependency's accepted output.
type ContextEntry struct {
	TaskID string
	Output string
}

// ResolvedContext is everything an executor receives besides the task itself.
type ResolvedContext struct {
	Dependencies []ContextEntry // Declaration order
	Feedback     string         // Feedback from the previous rejected attempt
	Revisions    []Revision     // Every earlier attempt of this task
	Instructions []string       // Added by BeforeTaskExecute observers
}

// IsRetry reports whether this attempt follows a rejection.
func (rc ResolvedContext) IsRetry() bool {
	return len(rc.Revisions) > 0
}

// TaskOutcome summarizes how a single task ended.
type TaskOutcome struct {
	TaskID      string      `json:"task_id"`
	Name        string      `json:"name"`
	Role        Role        `json:"role"`
	Status      TaskStatus  `json:"status"`
	Iterations  int         `json:"iterations"`
	Output      string      `json:"output,omitempty"`
	Failure     FailureKind `json:"failure,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	CascadeFrom string      `json:"cascade_from,omitempty"`
}

// WorkflowResult is the aggregate outcome of a run.
type WorkflowResult struct {
	WorkflowID      string         `json:"workflow_id"`
	Status          WorkflowStatus `json:"status"`
	Success         bool           `json:"success"`
	TasksCompleted  int            `json:"tasks_completed"`
	TasksFailed     int            `json:"tasks_failed"`
	Outcomes        []TaskOutcome  `json:"outcomes"`
	TotalIterations int            `json:"total_iterations"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	Duration        time.Duration  `json:"duration"`
}

// Failed returns the outcomes of every failed task, in insertion order.
func (r WorkflowResult) Failed() []TaskOutcome {
	var failed []TaskOutcome
	for _, o := range r.Outcomes {
		if o.Status == TaskFailed {
			failed = append(failed, o)
		}
	}
	return failed
}
