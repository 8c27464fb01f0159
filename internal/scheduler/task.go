package scheduler

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending       TaskStatus = iota // Waiting for dependencies
	TaskInProgress                      // Attempt in flight
	TaskNeedsRevision                   // Rejected, waiting for the next attempt
	TaskCompleted                       // Accepted
	TaskFailed                          // Rejected for good, or a dependency failed
)

var taskStatusNames = map[TaskStatus]string{
	TaskPending:       "pending",
	TaskInProgress:    "in_progress",
	TaskNeedsRevision: "needs_revision",
	TaskCompleted:     "completed",
	TaskFailed:        "failed",
}

func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskStatus(%d)", int(s))
}

// IsTerminal reports whether no further attempts will be made.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	name, ok := taskStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown task status %d", int(s))
	}
	return []byte(name), nil
}

func (s *TaskStatus) UnmarshalText(text []byte) error {
	for status, name := range taskStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown task status %q", string(text))
}

// FailureKind separates a task's own failure from one inherited from a dependency.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureRejected  FailureKind = "rejected"  // Evaluator rejected the last attempt
	FailureExecution FailureKind = "execution" // Executor errored on the last attempt
	FailureCascade   FailureKind = "cascade"   // A dependency failed; never attempted
)

// Role selects which executor handles a task.
type Role string

const (
	RolePlanning       Role = "planning"
	RoleImplementation Role = "implementation"
	RoleVerification   Role = "verification"
	RoleSecurityReview Role = "security-review"
	RoleDocumentation  Role = "documentation"
)

// Priority orders tasks that become eligible at the same time. Higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// ParsePriority accepts the named levels used in template files.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "", "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	var p int
	if _, err := fmt.Sscanf(s, "%d", &p); err != nil {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return Priority(p), nil
}

// Revision records one attempt of a task: the result it produced and the
// verdict it received. Accepted revisions carry no feedback.
type Revision struct {
	Attempt  int        `json:"attempt" yaml:"attempt"`
	Result   TaskResult `json:"result" yaml:"result"`
	Accepted bool       `json:"accepted" yaml:"accepted"`
	Feedback string     `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// Task represents a unit of work in a workflow.
type Task struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Description    string            `json:"description" yaml:"description"`
	ExpectedOutput string            `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
	Role           Role              `json:"role" yaml:"role"`
	ContextTaskIDs []string          `json:"context_task_ids,omitempty" yaml:"context_task_ids,omitempty"`
	Priority       Priority          `json:"priority" yaml:"priority"`
	Resources      []string          `json:"resources,omitempty" yaml:"resources,omitempty"` // Shared resources; serialized in parallel mode
	Status         TaskStatus        `json:"status" yaml:"status"`
	Iteration      int               `json:"iteration" yaml:"iteration"`
	Revisions      []Revision        `json:"revisions,omitempty" yaml:"revisions,omitempty"`
	Failure        FailureKind       `json:"failure,omitempty" yaml:"failure,omitempty"`
	FailureDetail  string            `json:"failure_detail,omitempty" yaml:"failure_detail,omitempty"`
	CascadeFrom    string            `json:"cascade_from,omitempty" yaml:"cascade_from,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" yaml:"updated_at"`
}

// View returns the read-only projection handed to executors and hooks.
func (t *Task) View() TaskView {
	return TaskView{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		ExpectedOutput: t.ExpectedOutput,
		Role:           t.Role,
		Attempt:        t.Iteration,
		Metadata:       cloneMap(t.Metadata),
	}
}

// AcceptedOutput returns the output of the accepted revision, if any.
func (t *Task) AcceptedOutput() (string, bool) {
	for i := len(t.Revisions) - 1; i >= 0; i-- {
		if t.Revisions[i].Accepted {
			return t.Revisions[i].Result.Output, true
		}
	}
	return "", false
}

// LatestFeedback returns the feedback of the most recent rejected attempt.
func (t *Task) LatestFeedback() string {
	if n := len(t.Revisions); n > 0 && !t.Revisions[n-1].Accepted {
		return t.Revisions[n-1].Feedback
	}
	return ""
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.ContextTaskIDs != nil {
		cp.ContextTaskIDs = append([]string(nil), task.ContextTaskIDs...)
	}
	if task.Resources != nil {
		cp.Resources = append([]string(nil), task.Resources...)
	}
	if task.Revisions != nil {
		cp.Revisions = append([]Revision(nil), task.Revisions...)
	}
	cp.Metadata = cloneMap(task.Metadata)
	return &cp
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
