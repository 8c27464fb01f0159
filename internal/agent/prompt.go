package agent

import (
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/scheduler"
)

// RenderPrompt formats a task and its resolved context as plain text, the
// way process-backed executors receive it on stdin.
func RenderPrompt(task scheduler.TaskView, rc scheduler.ResolvedContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", task.Name)
	fmt.Fprintf(&b, "Role: %s\nAttempt: %d\n", task.Role, task.Attempt)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if task.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\n## Expected output\n\n%s\n", task.ExpectedOutput)
	}

	for _, dep := range rc.Dependencies {
		fmt.Fprintf(&b, "\n## Output of %s\n\n%s\n", dep.TaskID, strings.TrimRight(dep.Output, "\n"))
	}

	if rc.IsRetry() {
		b.WriteString("\n## Previous attempts\n\n")
		for _, rev := range rc.Revisions {
			fmt.Fprintf(&b, "- attempt %d: %s\n", rev.Attempt, rev.Feedback)
		}
	}
	if rc.Feedback != "" {
		fmt.Fprintf(&b, "\n## Feedback to address\n\n%s\n", rc.Feedback)
	}

	if len(rc.Instructions) > 0 {
		b.WriteString("\n## Instructions\n\n")
		for _, instr := range rc.Instructions {
			fmt.Fprintf(&b, "- %s\n", instr)
		}
	}
	return b.String()
}
