package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Command runs an external program once per attempt. The rendered prompt is
// written to its stdin and its stdout becomes the task output. A non-zero
// exit is an execution error carrying the tail of stderr.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	ID    string          // Reported as ExecutorID; defaults to Name
	Procs *ProcessManager // Optional; tracks running children for shutdown
}

// NewCommand creates a command executor.
func NewCommand(name string, args []string, procs *ProcessManager) *Command {
	return &Command{Name: name, Args: args, Procs: procs}
}

func (c *Command) Execute(ctx context.Context, task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
	id := c.ID
	if id == "" {
		id = c.Name
	}
	result := scheduler.TaskResult{TaskID: task.ID, ExecutorID: id}

	cmd := newCommand(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = strings.NewReader(RenderPrompt(task, rc))
	cmd.Env = append(os.Environ(),
		"TASKFLOW_TASK_ID="+task.ID,
		"TASKFLOW_TASK_NAME="+task.Name,
		"TASKFLOW_ROLE="+string(task.Role),
		"TASKFLOW_ATTEMPT="+strconv.Itoa(task.Attempt),
	)

	stdout, stderr, err := executeCommand(cmd, c.Procs)
	result.Timestamp = time.Now()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		detail := commandFailure(err, stderr)
		result.ErrorDetail = detail
		return result, scheduler.NewExecutionError(detail, err)
	}

	result.Output = string(stdout)
	result.Success = true
	return result, nil
}

func commandFailure(err error, stderr []byte) string {
	var exitErr *exec.ExitError
	detail := err.Error()
	if errors.As(err, &exitErr) {
		detail = fmt.Sprintf("command exited with status %d", exitErr.ExitCode())
	}
	if tail := lastLine(stderr); tail != "" {
		detail += ": " + tail
	}
	return detail
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// newCommand creates an exec.Cmd in its own process group so cancellation
// kills the whole subprocess tree.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	return cmd
}

// executeCommand runs cmd and returns its stdout and stderr. Both pipes are
// drained concurrently before cmd.Wait, so output larger than the pipe
// buffer cannot deadlock the child.
func executeCommand(cmd *exec.Cmd, procs *ProcessManager) (stdout []byte, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}
	if procs != nil {
		procs.Track(cmd)
		defer procs.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	stdout, stderr = stdoutBuf.Bytes(), stderrBuf.Bytes()
	if waitErr != nil {
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}
	return stdout, stderr, nil
}

// killProcessGroup sends SIGKILL to the command's whole process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks running subprocesses so they can all be killed on
// shutdown.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started subprocess.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess once it has been waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates every tracked subprocess group.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("process %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of running tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
