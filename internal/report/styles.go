package report

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/scheduler"
)

// styles are bound to one output so color is only emitted to terminals.
type styles struct {
	title    lipgloss.Style
	box      lipgloss.Style
	running  lipgloss.Style
	complete lipgloss.Style
	failed   lipgloss.Style
	pending  lipgloss.Style
	help     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().
			Bold(true),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
		running: r.NewStyle().
			Foreground(lipgloss.Color("yellow")).
			Bold(true),
		complete: r.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true),
		failed: r.NewStyle().
			Foreground(lipgloss.Color("red")).
			Bold(true),
		pending: r.NewStyle().
			Foreground(lipgloss.Color("240")),
		help: r.NewStyle().
			Foreground(lipgloss.Color("241")),
	}
}

func (s styles) taskStatus(status scheduler.TaskStatus) string {
	switch status {
	case scheduler.TaskCompleted:
		return s.complete.Render("✓ " + status.String())
	case scheduler.TaskFailed:
		return s.failed.Render("✗ " + status.String())
	case scheduler.TaskInProgress, scheduler.TaskNeedsRevision:
		return s.running.Render("… " + status.String())
	default:
		return s.pending.Render("· " + status.String())
	}
}

func (s styles) workflowStatus(status scheduler.WorkflowStatus) string {
	switch status {
	case scheduler.WorkflowCompleted:
		return s.complete.Render(status.String())
	case scheduler.WorkflowFailed:
		return s.failed.Render(status.String())
	case scheduler.WorkflowPartiallyCompleted, scheduler.WorkflowRunning:
		return s.running.Render(status.String())
	default:
		return s.pending.Render(status.String())
	}
}
