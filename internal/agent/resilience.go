package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskflow/internal/scheduler"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
	MaxRetries          uint64        // Retries after the first call; 0 leaves only MaxElapsedTime
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// CircuitBreakerRegistry manages per-role circuit breakers.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[scheduler.Role]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(logger *slog.Logger) *CircuitBreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[scheduler.Role]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the circuit breaker for the given role.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(role scheduler.Role) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[role]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(role),
		MaxRequests: 3, // Allow 3 test requests in half-open state
		Interval:    0, // Don't clear counts automatically
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "role", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Cancellation and reported task failures are not the executor being unhealthy
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			var execErr *scheduler.ExecutionError
			return errors.As(err, &execErr)
		},
	})

	r.breakers[role] = cb
	return cb
}

type resilientExecutor struct {
	next     Executor
	breakers *CircuitBreakerRegistry
	retry    RetryConfig
}

// Resilient wraps exec with exponential backoff retries and a per-role
// circuit breaker. Transient errors are retried; *scheduler.ExecutionError
// results and unsuccessful results are returned at once so the engine can
// feed them back. Anything still failing is reported as an ExecutionError.
func Resilient(exec Executor, breakers *CircuitBreakerRegistry, retry RetryConfig) Executor {
	return &resilientExecutor{next: exec, breakers: breakers, retry: retry}
}

func (e *resilientExecutor) Execute(ctx context.Context, task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
	cb := e.breakers.Get(task.Role)
	var result scheduler.TaskResult

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		out, err := cb.Execute(func() (interface{}, error) {
			return e.next.Execute(ctx, task, rc)
		})
		if err != nil {
			var execErr *scheduler.ExecutionError
			switch {
			case errors.As(err, &execErr):
				return backoff.Permanent(err)
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return backoff.Permanent(scheduler.NewExecutionError(fmt.Sprintf("executor for role %s unavailable", task.Role), err))
			case ctx.Err() != nil:
				return backoff.Permanent(err)
			}
			return err
		}

		result = out.(scheduler.TaskResult)
		return nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = e.retry.InitialInterval
	backoffPolicy.MaxInterval = e.retry.MaxInterval
	backoffPolicy.MaxElapsedTime = e.retry.MaxElapsedTime
	backoffPolicy.Multiplier = e.retry.Multiplier
	backoffPolicy.RandomizationFactor = e.retry.RandomizationFactor

	var policy backoff.BackOff = backoffPolicy
	if e.retry.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, e.retry.MaxRetries)
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err == nil {
		return result, nil
	}

	var execErr *scheduler.ExecutionError
	if errors.As(err, &execErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return scheduler.TaskResult{}, err
	}
	return scheduler.TaskResult{}, scheduler.NewExecutionError(err.Error(), err)
}

type timeoutExecutor struct {
	next    Executor
	timeout time.Duration
}

// WithTimeout bounds every attempt. An attempt that runs out of time is
// reported as an ExecutionError with detail "timeout".
func WithTimeout(exec Executor, timeout time.Duration) Executor {
	if timeout <= 0 {
		return exec
	}
	return &timeoutExecutor{next: exec, timeout: timeout}
}

func (e *timeoutExecutor) Execute(ctx context.Context, task scheduler.TaskView, rc scheduler.ResolvedContext) (scheduler.TaskResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.next.Execute(attemptCtx, task, rc)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return scheduler.TaskResult{}, scheduler.NewExecutionError("timeout", err)
	}
	return result, err
}
