// Package agent defines the executor and evaluator ports the engine drives,
// the role lookup table, and wrappers that add retries, circuit breaking and
// timeouts around any executor.
package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Executor performs one attempt of a task. Failures that should be fed back
// to the next attempt are returned as *scheduler.ExecutionError.
type Executor interface {
	Execute(ctx context.Context, task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
	return f(ctx, task, rc)
}

// Evaluator decides whether a result is acceptable.
type Evaluator interface {
	Evaluate(ctx context.Context, task scheduler.TaskView, result scheduler.TaskResult) (scheduler.EvaluationResult, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, task scheduler.TaskView, result scheduler.TaskResult) (scheduler.EvaluationResult, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, task scheduler.TaskView, result scheduler.TaskResult) (scheduler.EvaluationResult, error) {
	return f(ctx, task, result)
}

// Registry maps roles to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[scheduler.Role]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[scheduler.Role]Executor),
	}
}

// Register maps a role to an executor, replacing any previous one.
func (r *Registry) Register(role scheduler.Role, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[role] = exec
}

// Lookup returns the executor for a role.
func (r *Registry) Lookup(role scheduler.Role) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[role]
	return exec, ok
}

// Roles returns the registered roles, sorted.
func (r *Registry) Roles() []scheduler.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]scheduler.Role, 0, len(r.executors))
	for role := range r.executors {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Missing returns the roles in want that have no executor, in input order.
func (r *Registry) Missing(want []scheduler.Role) []scheduler.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []scheduler.Role
	for _, role := range want {
		if _, ok := r.executors[role]; !ok {
			missing = append(missing, role)
		}
	}
	return missing
}
