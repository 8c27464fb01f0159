package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mode is the execution discipline of a workflow.
type Mode string

const (
	ModeSequential       Mode = "sequential" // One task in flight at a time
	ModeParallelEligible Mode = "parallel"   // Every eligible task may run concurrently
)

// DefaultMaxIterations bounds attempts per task when no config says otherwise.
const DefaultMaxIterations = 3

// Config controls how a workflow is executed.
type Config struct {
	EnableEvaluation     bool `json:"enable_evaluation" yaml:"enable_evaluation"`
	EnableCorrectionLoop bool `json:"enable_correction_loop" yaml:"enable_correction_loop"`
	MaxIterations        int  `json:"max_iterations" yaml:"max_iterations"`
	Mode                 Mode `json:"mode" yaml:"mode"`
	MaxParallel          int  `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"` // Parallel mode only; 0 means 4
}

// DefaultConfig returns evaluation and correction enabled, sequential mode.
func DefaultConfig() Config {
	return Config{
		EnableEvaluation:     true,
		EnableCorrectionLoop: true,
		MaxIterations:        DefaultMaxIterations,
		Mode:                 ModeSequential,
	}
}

// Validate checks the config and returns a *ConfigurationError if it is unusable.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return configError(ErrInvalidMaxIterations, fmt.Sprintf("got %d", c.MaxIterations))
	}
	switch c.Mode {
	case "", ModeSequential, ModeParallelEligible:
	default:
		return configError(ErrInvalidMode, string(c.Mode))
	}
	if c.MaxParallel < 0 {
		return configError(ErrInvalidMode, fmt.Sprintf("max parallel must not be negative, got %d", c.MaxParallel))
	}
	return nil
}

// WorkflowStatus is the aggregate state of a workflow.
type WorkflowStatus int

const (
	WorkflowCreated WorkflowStatus = iota
	WorkflowRunning
	WorkflowCompleted
	WorkflowFailed
	WorkflowPartiallyCompleted
)

var workflowStatusNames = map[WorkflowStatus]string{
	WorkflowCreated:            "created",
	WorkflowRunning:            "running",
	WorkflowCompleted:          "completed",
	WorkflowFailed:             "failed",
	WorkflowPartiallyCompleted: "partially_completed",
}

func (s WorkflowStatus) String() string {
	if name, ok := workflowStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("WorkflowStatus(%d)", int(s))
}

// IsTerminal reports whether execution has finished.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowPartiallyCompleted
}

func (s WorkflowStatus) MarshalText() ([]byte, error) {
	name, ok := workflowStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown workflow status %d", int(s))
	}
	return []byte(name), nil
}

func (s *WorkflowStatus) UnmarshalText(text []byte) error {
	for status, name := range workflowStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown workflow status %q", string(text))
}

// Workflow owns an insertion-ordered set of tasks and their dependency DAG.
// Tasks handed out by accessors are clones; only the Mark*/Begin* methods
// used by the orchestrator change task state.
type Workflow struct {
	mu          sync.RWMutex
	id          string
	name        string
	description string
	config      Config
	status      WorkflowStatus
	order       []string         // Insertion order, the scheduling tie-break
	tasks       map[string]*Task // All tasks indexed by ID
	metadata    map[string]string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewWorkflow creates an empty workflow. An invalid config is rejected.
func NewWorkflow(name, description string, cfg Config) (*Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSequential
	}
	return &Workflow{
		id:          uuid.NewString(),
		name:        name,
		description: description,
		config:      cfg,
		status:      WorkflowCreated,
		tasks:       make(map[string]*Task),
		metadata:    make(map[string]string),
		createdAt:   time.Now(),
	}, nil
}

func (w *Workflow) ID() string          { return w.id }
func (w *Workflow) Name() string        { return w.name }
func (w *Workflow) Description() string { return w.description }
func (w *Workflow) Config() Config      { return w.config }

// Status returns the aggregate status.
func (w *Workflow) Status() WorkflowStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// SetMetadata annotates the workflow, e.g. with the template it came from.
func (w *Workflow) SetMetadata(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metadata[key] = value
}

// Metadata returns a copy of the workflow annotations.
func (w *Workflow) Metadata() map[string]string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneMap(w.metadata)
}

// AddTask adds a copy of task to the workflow. An empty ID is replaced by a
// generated one, written back to task.ID once the task is stored; a rejected
// task is left untouched. Dependencies may name tasks that are added later;
// cycles among known tasks are rejected immediately.
func (w *Workflow) AddTask(task *Task) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != WorkflowCreated {
		return configError(ErrWorkflowNotEditable, fmt.Sprintf("status is %s", w.status))
	}
	if task == nil {
		return configError(ErrInvalidTask, "nil task")
	}
	if task.Role == "" {
		return configError(ErrInvalidTask, "role is required", task.ID)
	}
	id := task.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := w.tasks[id]; exists {
		return configError(ErrDuplicateTask, "", id)
	}

	cp := cloneTask(task)
	cp.ID = id
	cp.ContextTaskIDs = dedupe(cp.ContextTaskIDs)
	for _, depID := range cp.ContextTaskIDs {
		if depID == cp.ID {
			return configError(ErrSelfDependency, "", cp.ID)
		}
	}

	if cycle := w.cycleWith(cp); len(cycle) > 0 {
		return configError(ErrCycle, "", cycle...)
	}

	now := time.Now()
	cp.Status = TaskPending
	cp.Iteration = 0
	cp.Revisions = nil
	cp.Failure = FailureNone
	cp.FailureDetail = ""
	cp.CascadeFrom = ""
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	w.tasks[cp.ID] = cp
	w.order = append(w.order, cp.ID)
	task.ID = id
	return nil
}

// Task returns a copy of the task with the given ID.
func (w *Workflow) Task(taskID string) (*Task, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	task, exists := w.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in insertion order.
func (w *Workflow) Tasks() []*Task {
	w.mu.RLock()
	defer w.mu.RUnlock()

	tasks := make([]*Task, 0, len(w.order))
	for _, id := range w.order {
		tasks = append(tasks, cloneTask(w.tasks[id]))
	}
	return tasks
}

// Len returns the number of tasks.
func (w *Workflow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.order)
}

// Roles returns the distinct roles used by the workflow's tasks, first-use order.
func (w *Workflow) Roles() []Role {
	w.mu.RLock()
	defer w.mu.RUnlock()

	seen := make(map[Role]bool)
	var roles []Role
	for _, id := range w.order {
		role := w.tasks[id].Role
		if !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	return roles
}

// Start moves a created workflow to running. Call Validate first.
func (w *Workflow) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != WorkflowCreated {
		return configError(ErrWorkflowNotEditable, fmt.Sprintf("cannot start workflow in status %s", w.status))
	}
	w.status = WorkflowRunning
	w.startedAt = time.Now()
	return nil
}

// Finish computes the aggregate status, makes it final and returns the result.
// Tasks still pending (an aborted run) make the workflow partially completed.
func (w *Workflow) Finish() WorkflowResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	completed, failed := 0, 0
	for _, task := range w.tasks {
		switch task.Status {
		case TaskCompleted:
			completed++
		case TaskFailed:
			failed++
		}
	}

	switch {
	case completed == len(w.tasks):
		w.status = WorkflowCompleted
	case failed == len(w.tasks):
		w.status = WorkflowFailed
	default:
		w.status = WorkflowPartiallyCompleted
	}
	w.completedAt = time.Now()

	return w.resultLocked()
}

// Result reports the current state of every task without changing anything.
func (w *Workflow) Result() WorkflowResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.resultLocked()
}

func (w *Workflow) resultLocked() WorkflowResult {
	res := WorkflowResult{
		WorkflowID:  w.id,
		Status:      w.status,
		Success:     w.status == WorkflowCompleted,
		Outcomes:    make([]TaskOutcome, 0, len(w.order)),
		StartedAt:   w.startedAt,
		CompletedAt: w.completedAt,
	}
	if !w.startedAt.IsZero() && !w.completedAt.IsZero() {
		res.Duration = w.completedAt.Sub(w.startedAt)
	}

	for _, id := range w.order {
		task := w.tasks[id]
		outcome := TaskOutcome{
			TaskID:      task.ID,
			Name:        task.Name,
			Role:        task.Role,
			Status:      task.Status,
			Iterations:  task.Iteration,
			Failure:     task.Failure,
			Detail:      task.FailureDetail,
			CascadeFrom: task.CascadeFrom,
		}
		if out, ok := task.AcceptedOutput(); ok {
			outcome.Output = out
		}
		switch task.Status {
		case TaskCompleted:
			res.TasksCompleted++
		case TaskFailed:
			res.TasksFailed++
		}
		res.TotalIterations += task.Iteration
		res.Outcomes = append(res.Outcomes, outcome)
	}
	return res
}

// WorkflowSnapshot is the serializable form of a workflow.
type WorkflowSnapshot struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Config      Config            `json:"config" yaml:"config"`
	Status      WorkflowStatus    `json:"status" yaml:"status"`
	Tasks       []Task            `json:"tasks" yaml:"tasks"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	StartedAt   time.Time         `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Snapshot copies the full workflow state.
func (w *Workflow) Snapshot() WorkflowSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := WorkflowSnapshot{
		ID:          w.id,
		Name:        w.name,
		Description: w.description,
		Config:      w.config,
		Status:      w.status,
		Tasks:       make([]Task, 0, len(w.order)),
		Metadata:    cloneMap(w.metadata),
		CreatedAt:   w.createdAt,
		StartedAt:   w.startedAt,
		CompletedAt: w.completedAt,
	}
	for _, id := range w.order {
		snap.Tasks = append(snap.Tasks, *cloneTask(w.tasks[id]))
	}
	return snap
}

// RestoreWorkflow rebuilds a workflow from a snapshot, keeping every task's
// recorded state. The dependency graph is validated again.
func RestoreWorkflow(snap WorkflowSnapshot) (*Workflow, error) {
	if err := snap.Config.Validate(); err != nil {
		return nil, err
	}
	id := snap.ID
	if id == "" {
		id = uuid.NewString()
	}
	w := &Workflow{
		id:          id,
		name:        snap.Name,
		description: snap.Description,
		config:      snap.Config,
		status:      snap.Status,
		tasks:       make(map[string]*Task, len(snap.Tasks)),
		metadata:    cloneMap(snap.Metadata),
		createdAt:   snap.CreatedAt,
		startedAt:   snap.StartedAt,
		completedAt: snap.CompletedAt,
	}
	if w.metadata == nil {
		w.metadata = make(map[string]string)
	}
	for i := range snap.Tasks {
		task := cloneTask(&snap.Tasks[i])
		if task.ID == "" {
			return nil, configError(ErrInvalidTask, "task without id")
		}
		if _, exists := w.tasks[task.ID]; exists {
			return nil, configError(ErrDuplicateTask, "", task.ID)
		}
		w.tasks[task.ID] = task
		w.order = append(w.order, task.ID)
	}
	if _, err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
