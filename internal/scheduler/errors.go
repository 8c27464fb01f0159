package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration problems. Always returned wrapped in a *ConfigurationError.
var (
	ErrCycle                = errors.New("dependency cycle")
	ErrDuplicateTask        = errors.New("duplicate task id")
	ErrSelfDependency       = errors.New("task depends on itself")
	ErrUnknownDependency    = errors.New("unknown dependency")
	ErrInvalidMaxIterations = errors.New("max iterations must be at least 1")
	ErrInvalidMode          = errors.New("invalid execution mode")
	ErrWorkflowNotEditable  = errors.New("workflow is not editable")
	ErrNoExecutor           = errors.New("no executor registered for role")
	ErrInvalidTask          = errors.New("invalid task")
)

// ErrNotClaimable is returned when a task cannot enter an attempt from its
// current status (already in progress, or terminal).
var ErrNotClaimable = errors.New("task is not claimable")

// ConfigurationError is raised synchronously while a workflow is being built
// or validated, never mid-run.
type ConfigurationError struct {
	Err     error    // One of the Err* sentinels above
	TaskIDs []string // Tasks involved, e.g. cycle participants
	Detail  string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error: ")
	b.WriteString(e.Err.Error())
	if len(e.TaskIDs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.TaskIDs, ", "))
		b.WriteString("]")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configError(err error, detail string, taskIDs ...string) *ConfigurationError {
	return &ConfigurationError{Err: err, TaskIDs: taskIDs, Detail: detail}
}

// ExecutionError is how executors report that no result could be produced.
// Detail is fed back verbatim as the next attempt's feedback.
type ExecutionError struct {
	Detail string
	Err    error
}

// NewExecutionError wraps err with a feedback detail.
func NewExecutionError(detail string, err error) *ExecutionError {
	return &ExecutionError{Detail: detail, Err: err}
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution failed: %s: %v", e.Detail, e.Err)
	}
	return "execution failed: " + e.Detail
}

func (e *ExecutionError) Unwrap() error { return e.Err }
