// Package report renders workflow results, templates and run history for
// the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/template"
)

const barWidth = 30

// Printer writes reports to one output.
type Printer struct {
	w     io.Writer
	style styles
}

// New creates a printer for w. Color is used only when w is a terminal.
func New(w io.Writer) *Printer {
	return &Printer{w: w, style: newStyles(w)}
}

// Result prints the outcome of a run.
func (p *Printer) Result(name string, res scheduler.WorkflowResult) {
	s := p.style
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n", s.title.Render(name), s.workflowStatus(res.Status))
	fmt.Fprintf(&b, "%s\n", s.help.Render(res.WorkflowID))
	fmt.Fprintf(&b, "%s  %d/%d completed, %d failed, %d attempts, %s\n\n",
		p.bar(res.TasksCompleted, res.TasksFailed, len(res.Outcomes)),
		res.TasksCompleted, len(res.Outcomes), res.TasksFailed, res.TotalIterations,
		res.Duration.Round(time.Millisecond))

	for _, o := range res.Outcomes {
		fmt.Fprintf(&b, "%s  %s %s\n", s.taskStatus(o.Status), o.Name, s.help.Render(fmt.Sprintf("[%s, %d attempt(s)]", o.Role, o.Iterations)))
		switch {
		case o.Failure == scheduler.FailureCascade:
			fmt.Fprintf(&b, "    skipped: dependency %s failed\n", o.CascadeFrom)
		case o.Failure != scheduler.FailureNone:
			fmt.Fprintf(&b, "    %s: %s\n", o.Failure, o.Detail)
		}
	}

	fmt.Fprintln(p.w, s.box.Render(strings.TrimRight(b.String(), "\n")))
}

// Outputs prints the accepted output of every completed task.
func (p *Printer) Outputs(res scheduler.WorkflowResult) {
	for _, o := range res.Outcomes {
		if o.Status != scheduler.TaskCompleted {
			continue
		}
		fmt.Fprintf(p.w, "%s\n%s\n\n", p.style.title.Render("── "+o.Name), strings.TrimRight(o.Output, "\n"))
	}
}

func (p *Printer) bar(completed, failed, total int) string {
	if total == 0 {
		return "[" + strings.Repeat(" ", barWidth) + "]"
	}
	s := p.style
	completedWidth := completed * barWidth / total
	failedWidth := failed * barWidth / total
	pendingWidth := barWidth - completedWidth - failedWidth

	bar := s.complete.Render(strings.Repeat("=", completedWidth))
	bar += s.failed.Render(strings.Repeat("!", failedWidth))
	bar += s.pending.Render(strings.Repeat(".", pendingWidth))
	return "[" + bar + "]"
}

// Templates prints a one-line summary per template.
func (p *Printer) Templates(templates []*template.Template) {
	if len(templates) == 0 {
		fmt.Fprintln(p.w, p.style.help.Render("no templates"))
		return
	}
	width := 0
	for _, t := range templates {
		width = max(width, lipgloss.Width(t.Name))
	}
	for _, t := range templates {
		fmt.Fprintf(p.w, "%-*s  %-13s %d task(s)  %s\n", width, t.Name, t.Category, len(t.Tasks), p.style.help.Render(t.Title))
	}
}

// Template prints a template's parameters and task graph.
func (p *Printer) Template(t *template.Template) {
	s := p.style
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", s.title.Render(t.Name), s.help.Render("v"+t.Version))
	if t.Title != "" {
		fmt.Fprintf(&b, "%s\n", t.Title)
	}
	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n", t.Description)
	}
	fmt.Fprintf(&b, "\ncategory: %s   mode: %s   max iterations: %d   evaluation: %t   correction: %t\n",
		t.Category, t.Config.Mode, t.Config.MaxIterations, t.Config.EnableEvaluation, t.Config.EnableCorrectionLoop)
	if len(t.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(t.Tags, ", "))
	}

	b.WriteString("\nparameters:\n")
	for _, name := range t.Required {
		fmt.Fprintf(&b, "  %s (required)\n", name)
	}
	optional := make([]string, 0, len(t.Optional))
	for name := range t.Optional {
		optional = append(optional, name)
	}
	sort.Strings(optional)
	for _, name := range optional {
		fmt.Fprintf(&b, "  %s = %q\n", name, t.Optional[name])
	}

	b.WriteString("\ntasks:\n")
	for _, task := range t.Tasks {
		fmt.Fprintf(&b, "  %s  %s %s\n", task.Key, task.Name, s.help.Render("["+string(task.Role)+"]"))
		if len(task.DependsOn) > 0 {
			fmt.Fprintf(&b, "      after %s\n", strings.Join(task.DependsOn, ", "))
		}
	}

	fmt.Fprintln(p.w, s.box.Render(strings.TrimRight(b.String(), "\n")))
}

// History prints stored runs, newest first.
func (p *Printer) History(runs []persistence.WorkflowSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(p.w, p.style.help.Render("no recorded runs"))
		return
	}
	for _, run := range runs {
		name := run.Name
		if run.Template != "" {
			name += " (" + run.Template + ")"
		}
		fmt.Fprintf(p.w, "%s  %s  %s  %d/%d completed, %d failed  %s\n",
			run.ID, run.CreatedAt.Format(time.DateTime), p.style.workflowStatus(run.Status),
			run.Completed, run.Tasks, run.Failed, name)
	}
}

// Snapshot prints a stored run task by task with every attempt.
func (p *Printer) Snapshot(snap scheduler.WorkflowSnapshot) {
	s := p.style
	fmt.Fprintf(p.w, "%s  %s\n%s\n\n", s.title.Render(snap.Name), s.workflowStatus(snap.Status), s.help.Render(snap.ID))

	for _, task := range snap.Tasks {
		fmt.Fprintf(p.w, "%s  %s %s\n", s.taskStatus(task.Status), task.Name, s.help.Render("["+string(task.Role)+"] "+task.ID))
		for _, rev := range task.Revisions {
			verdict := s.complete.Render("accepted")
			if !rev.Accepted {
				verdict = s.failed.Render("rejected")
			}
			fmt.Fprintf(p.w, "    attempt %d: %s", rev.Attempt, verdict)
			if rev.Feedback != "" {
				fmt.Fprintf(p.w, ": %s", rev.Feedback)
			}
			fmt.Fprintln(p.w)
		}
		if task.Failure == scheduler.FailureCascade {
			fmt.Fprintf(p.w, "    skipped: dependency %s failed\n", task.CascadeFrom)
		}
	}
}

// Revisions prints every attempt of one task with its output.
func (p *Printer) Revisions(taskID string, revs []scheduler.Revision) {
	s := p.style
	if len(revs) == 0 {
		fmt.Fprintln(p.w, s.help.Render("no attempts recorded for "+taskID))
		return
	}
	for _, rev := range revs {
		verdict := s.complete.Render("accepted")
		if !rev.Accepted {
			verdict = s.failed.Render("rejected")
		}
		fmt.Fprintf(p.w, "%s  %s\n", s.title.Render(fmt.Sprintf("attempt %d", rev.Attempt)), verdict)
		if rev.Feedback != "" {
			fmt.Fprintf(p.w, "feedback: %s\n", rev.Feedback)
		}
		if rev.Result.ErrorDetail != "" {
			fmt.Fprintf(p.w, "error: %s\n", rev.Result.ErrorDetail)
		}
		if out := strings.TrimRight(rev.Result.Output, "\n"); out != "" {
			fmt.Fprintf(p.w, "%s\n", out)
		}
		fmt.Fprintln(p.w)
	}
}

// Event prints one progress line.
func (p *Printer) Event(e events.Event) {
	s := p.style
	var line string
	switch ev := e.(type) {
	case events.TaskStartedEvent:
		line = s.running.Render("start") + fmt.Sprintf("  %s [%s] attempt %d", ev.Name, ev.Role, ev.Attempt)
	case events.TaskAttemptedEvent:
		if ev.Success {
			line = s.pending.Render("ran") + fmt.Sprintf("    %s attempt %d via %s", ev.ID, ev.Attempt, ev.ExecutorID)
		} else {
			line = s.failed.Render("error") + fmt.Sprintf("  %s attempt %d: %s", ev.ID, ev.Attempt, ev.ErrorDetail)
		}
	case events.TaskRevisionRequestedEvent:
		line = s.running.Render("revise") + fmt.Sprintf(" %s attempt %d: %s", ev.ID, ev.Attempt, ev.Feedback)
	case events.TaskCompletedEvent:
		line = s.complete.Render("done") + fmt.Sprintf("   %s after %d attempt(s)", ev.ID, ev.Attempts)
	case events.TaskFailedEvent:
		line = s.failed.Render("failed") + fmt.Sprintf(" %s: %s", ev.ID, ev.Detail)
	case events.WorkflowCompletedEvent:
		line = s.title.Render("finished") + fmt.Sprintf(" %s: %s", ev.Workflow, ev.Status)
	default:
		line = e.EventType()
	}
	fmt.Fprintln(p.w, line)
}
