package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Echo is an executor that describes the work it was given instead of doing
// it. The CLI uses it for dry runs of templates.
type Echo struct {
	ID string
}

func (e Echo) Execute(ctx context.Context, task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.TaskResult{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (attempt %d)\n", task.Role, task.Name, task.Attempt)
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n")
	}
	for _, dep := range rc.Dependencies {
		fmt.Fprintf(&b, "using %s: %d bytes\n", dep.TaskID, len(dep.Output))
	}
	if rc.Feedback != "" {
		fmt.Fprintf(&b, "addressing feedback: %s\n", rc.Feedback)
	}
	for _, instr := range rc.Instructions {
		fmt.Fprintf(&b, "note: %s\n", instr)
	}

	id := e.ID
	if id == "" {
		id = "echo"
	}
	return scheduler.TaskResult{
		TaskID:     task.ID,
		Output:     b.String(),
		Success:    true,
		ExecutorID: id,
		Timestamp:  time.Now(),
	}, nil
}
