package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/gammazero/toposort"
)

// Validate checks the whole graph: every dependency must name a task in the
// workflow and the graph must be acyclic. Returns a topological order.
func (w *Workflow) Validate() ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var unknown []string
	var detail string
	for _, id := range w.order {
		for _, depID := range w.tasks[id].ContextTaskIDs {
			if _, exists := w.tasks[depID]; !exists {
				if detail == "" {
					detail = fmt.Sprintf("task %q depends on %q", id, depID)
				}
				unknown = append(unknown, id)
				break
			}
		}
	}
	if len(unknown) > 0 {
		return nil, configError(ErrUnknownDependency, detail, unknown...)
	}

	order, err := w.topoSortLocked(nil)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// topoSortLocked sorts the known tasks plus an optional candidate. Edges to
// tasks not yet added are kept so forward references participate.
func (w *Workflow) topoSortLocked(candidate *Task) ([]string, error) {
	var edges []toposort.Edge
	addEdges := func(task *Task) {
		if len(task.ContextTaskIDs) == 0 {
			// Task with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, task.ID})
			return
		}
		for _, depID := range task.ContextTaskIDs {
			// Edge (depID, taskID) means depID must come before taskID
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}
	for _, id := range w.order {
		addEdges(w.tasks[id])
	}
	if candidate != nil {
		addEdges(candidate)
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		cycle := w.findCycleLocked(candidate)
		return nil, configError(ErrCycle, err.Error(), cycle...)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id == nil {
			continue
		}
		key := id.(string)
		if _, known := w.tasks[key]; known || (candidate != nil && key == candidate.ID) {
			order = append(order, key)
		}
	}
	return order, nil
}

// cycleWith returns the participants of a cycle that adding candidate would
// close, or nil.
func (w *Workflow) cycleWith(candidate *Task) []string {
	if _, err := w.topoSortLocked(candidate); err != nil {
		if cycle := w.findCycleLocked(candidate); len(cycle) > 0 {
			return cycle
		}
		return []string{candidate.ID}
	}
	return nil
}

// findCycleLocked walks dependencies depth-first in insertion order and
// returns the first cycle found, in dependency order.
func (w *Workflow) findCycleLocked(candidate *Task) []string {
	deps := func(id string) []string {
		if candidate != nil && id == candidate.ID {
			return candidate.ContextTaskIDs
		}
		if task, ok := w.tasks[id]; ok {
			return task.ContextTaskIDs
		}
		return nil
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)
		for _, depID := range deps(id) {
			switch state[depID] {
			case visiting:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == depID {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
			case unvisited:
				if visit(depID) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	roots := append([]string(nil), w.order...)
	if candidate != nil {
		roots = append(roots, candidate.ID)
	}
	for _, id := range roots {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// Eligible returns pending tasks whose dependencies have all completed,
// highest priority first and insertion order among equals.
func (w *Workflow) Eligible() []*Task {
	w.mu.RLock()
	defer w.mu.RUnlock()

	eligible := []*Task{}
	for _, id := range w.order {
		task := w.tasks[id]
		if task.Status != TaskPending {
			continue
		}
		if w.dependenciesCompletedLocked(task) {
			eligible = append(eligible, cloneTask(task))
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority > eligible[j].Priority
	})
	return eligible
}

func (w *Workflow) dependenciesCompletedLocked(task *Task) bool {
	for _, depID := range task.ContextTaskIDs {
		dep, exists := w.tasks[depID]
		if !exists || dep.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// Pending reports whether any task has not reached a terminal status.
func (w *Workflow) Pending() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, task := range w.tasks {
		if !task.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// PropagateFailures fails every pending task that has a failed dependency,
// transitively, without attempting it. Returns copies of the tasks it failed.
func (w *Workflow) PropagateFailures() []*Task {
	w.mu.Lock()
	defer w.mu.Unlock()

	var cascaded []*Task
	for changed := true; changed; {
		changed = false
		for _, id := range w.order {
			task := w.tasks[id]
			if task.Status != TaskPending {
				continue
			}
			for _, depID := range task.ContextTaskIDs {
				dep, exists := w.tasks[depID]
				if !exists || dep.Status != TaskFailed {
					continue
				}
				task.Status = TaskFailed
				task.Failure = FailureCascade
				task.CascadeFrom = depID
				task.FailureDetail = fmt.Sprintf("dependency %q failed", depID)
				task.UpdatedAt = time.Now()
				cascaded = append(cascaded, cloneTask(task))
				changed = true
				break
			}
		}
	}
	return cascaded
}

// ResolveContext returns the accepted outputs of a task's dependencies in
// declaration order. Every dependency must be completed.
func (w *Workflow) ResolveContext(taskID string) ([]ContextEntry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	task, exists := w.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %q not found", taskID)
	}

	entries := make([]ContextEntry, 0, len(task.ContextTaskIDs))
	for _, depID := range task.ContextTaskIDs {
		dep, exists := w.tasks[depID]
		if !exists {
			return nil, fmt.Errorf("task %q: dependency %q not found", taskID, depID)
		}
		out, ok := dep.AcceptedOutput()
		if dep.Status != TaskCompleted || !ok {
			return nil, fmt.Errorf("task %q: dependency %q is %s", taskID, depID, dep.Status)
		}
		entries = append(entries, ContextEntry{TaskID: depID, Output: out})
	}
	return entries, nil
}

// BeginAttempt claims a pending or revision-requested task, moves it to in
// progress and increments its iteration. It is the only place the iteration
// counter changes. Returns a copy of the claimed task.
func (w *Workflow) BeginAttempt(taskID string) (*Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	task, exists := w.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	if task.Status != TaskPending && task.Status != TaskNeedsRevision {
		return nil, fmt.Errorf("task %q is %s: %w", taskID, task.Status, ErrNotClaimable)
	}
	if task.Iteration >= w.config.MaxIterations {
		return nil, fmt.Errorf("task %q used all %d attempts: %w", taskID, w.config.MaxIterations, ErrNotClaimable)
	}

	task.Status = TaskInProgress
	task.Iteration++
	task.UpdatedAt = time.Now()
	return cloneTask(task), nil
}

// MarkCompleted records the accepted attempt and completes the task.
func (w *Workflow) MarkCompleted(taskID string, result TaskResult) error {
	return w.finishAttempt(taskID, TaskCompleted, func(task *Task) {
		task.Revisions = append(task.Revisions, Revision{
			Attempt:  task.Iteration,
			Result:   result,
			Accepted: true,
		})
	})
}

// MarkNeedsRevision records a rejected attempt that will be retried.
func (w *Workflow) MarkNeedsRevision(taskID string, result TaskResult, feedback string) error {
	return w.finishAttempt(taskID, TaskNeedsRevision, func(task *Task) {
		task.Revisions = append(task.Revisions, Revision{
			Attempt:  task.Iteration,
			Result:   result,
			Feedback: feedback,
		})
	})
}

// MarkFailed records the final rejected attempt and fails the task.
func (w *Workflow) MarkFailed(taskID string, result TaskResult, kind FailureKind, feedback string) error {
	return w.finishAttempt(taskID, TaskFailed, func(task *Task) {
		task.Revisions = append(task.Revisions, Revision{
			Attempt:  task.Iteration,
			Result:   result,
			Feedback: feedback,
		})
		task.Failure = kind
		task.FailureDetail = feedback
	})
}

func (w *Workflow) finishAttempt(taskID string, next TaskStatus, record func(*Task)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	task, exists := w.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if task.Status != TaskInProgress {
		return fmt.Errorf("task %q is %s, not in progress", taskID, task.Status)
	}

	record(task)
	task.Status = next
	task.UpdatedAt = time.Now()
	return nil
}
