package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/template"
)

func TestResult(t *testing.T) {
	var buf bytes.Buffer
	res := scheduler.WorkflowResult{
		WorkflowID:      "wf-1",
		Status:          scheduler.WorkflowPartiallyCompleted,
		TasksCompleted:  1,
		TasksFailed:     2,
		TotalIterations: 4,
		Outcomes: []scheduler.TaskOutcome{
			{TaskID: "a", Name: "Plan", Role: scheduler.RolePlanning, Status: scheduler.TaskCompleted, Iterations: 1, Output: "the plan"},
			{TaskID: "b", Name: "Build", Role: scheduler.RoleImplementation, Status: scheduler.TaskFailed, Iterations: 3,
				Failure: scheduler.FailureRejected, Detail: "tests missing"},
			{TaskID: "c", Name: "Docs", Role: scheduler.RoleDocumentation, Status: scheduler.TaskFailed,
				Failure: scheduler.FailureCascade, CascadeFrom: "b"},
		},
	}

	p := New(&buf)
	p.Result("release", res)
	out := buf.String()

	for _, want := range []string{
		"release", "partially_completed", "wf-1",
		"1/3 completed, 2 failed, 4 attempts",
		"Plan", "[planning, 1 attempt(s)]",
		"rejected: tests missing",
		"skipped: dependency b failed",
	} {
		assert.Contains(t, out, want)
	}

	buf.Reset()
	p.Outputs(res)
	assert.Contains(t, buf.String(), "the plan")
	assert.NotContains(t, buf.String(), "Build")
}

func TestBar(t *testing.T) {
	p := New(&bytes.Buffer{})
	bar := p.bar(1, 1, 2)
	assert.Equal(t, "["+strings.Repeat("=", 15)+strings.Repeat("!", 15)+"]", bar)
	assert.Equal(t, "["+strings.Repeat(" ", barWidth)+"]", p.bar(0, 0, 0))
}

func TestTemplates(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	registry := template.NewDefaultRegistry()
	p.Templates(registry.List())
	out := buf.String()
	assert.Contains(t, out, "code-review")
	assert.Contains(t, out, "security-audit")
	assert.Equal(t, 5, strings.Count(out, "\n"))

	buf.Reset()
	tmpl, err := registry.Get("full-development")
	assert.NoError(t, err)
	p.Template(tmpl)
	out = buf.String()
	assert.Contains(t, out, "project_name (required)")
	assert.Contains(t, out, `tech_stack = "Go"`)
	assert.Contains(t, out, "after implement, verify")

	buf.Reset()
	p.Templates(nil)
	assert.Contains(t, buf.String(), "no templates")
}

func TestHistory(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.History([]persistence.WorkflowSummary{{
		ID: "wf-9", Name: "Quick Implementation", Template: "quick-implementation",
		Status: scheduler.WorkflowCompleted, Tasks: 2, Completed: 2,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "wf-9")
	assert.Contains(t, out, "2026-01-02 03:04:05")
	assert.Contains(t, out, "2/2 completed, 0 failed")
	assert.Contains(t, out, "(quick-implementation)")

	buf.Reset()
	p.History(nil)
	assert.Contains(t, buf.String(), "no recorded runs")
}

func TestSnapshot(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Snapshot(scheduler.WorkflowSnapshot{
		ID:     "wf-2",
		Name:   "docs",
		Status: scheduler.WorkflowCompleted,
		Tasks: []scheduler.Task{{
			ID: "t", Name: "Write", Role: scheduler.RoleDocumentation, Status: scheduler.TaskCompleted,
			Revisions: []scheduler.Revision{
				{Attempt: 1, Feedback: "too short"},
				{Attempt: 2, Accepted: true},
			},
		}},
	})
	out := buf.String()
	assert.Contains(t, out, "attempt 1: rejected: too short")
	assert.Contains(t, out, "attempt 2: accepted")
}

func TestRevisions(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.Revisions("impl", []scheduler.Revision{
		{Attempt: 1, Feedback: "no tests", Result: scheduler.TaskResult{Output: "draft\n", Success: true}},
		{Attempt: 2, Feedback: "timeout", Result: scheduler.TaskResult{ErrorDetail: "timeout"}},
		{Attempt: 3, Accepted: true, Result: scheduler.TaskResult{Output: "final", Success: true}},
	})
	out := buf.String()
	assert.Contains(t, out, "attempt 1  rejected\nfeedback: no tests\ndraft\n")
	assert.Contains(t, out, "error: timeout")
	assert.Contains(t, out, "attempt 3  accepted\nfinal\n")

	buf.Reset()
	p.Revisions("impl", nil)
	assert.Contains(t, buf.String(), "no attempts recorded for impl")
}

func TestEvent(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.Event(events.TaskStartedEvent{Name: "Build", Role: scheduler.RoleImplementation, Attempt: 2})
	p.Event(events.WorkflowCompletedEvent{Workflow: "wf", Status: scheduler.WorkflowFailed})

	out := buf.String()
	assert.Contains(t, out, "start  Build [implementation] attempt 2")
	assert.Contains(t, out, "finished wf: failed")
}
