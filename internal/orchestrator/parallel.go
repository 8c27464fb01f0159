package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskflow/internal/scheduler"
)

// DefaultMaxParallel is the concurrency limit when Config.MaxParallel is 0.
const DefaultMaxParallel = 4

// runParallel executes waves of eligible tasks with bounded concurrency.
// Tasks that share a resource never run at the same time.
func (e *Engine) runParallel(ctx context.Context, wf *scheduler.Workflow) error {
	limit := wf.Config().MaxParallel
	if limit <= 0 {
		limit = DefaultMaxParallel
	}

	for {
		e.cascade(ctx, wf)
		if err := ctx.Err(); err != nil {
			return err
		}

		eligible := wf.Eligible()
		if len(eligible) == 0 {
			return nil
		}

		// Execute wave of tasks with bounded concurrency
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)

		for _, task := range eligible {
			g.Go(func() error {
				release, err := e.locks.Acquire(gctx, task.Resources)
				if err != nil {
					// Cancelled while waiting; the task stays pending
					return nil
				}
				defer release()
				return e.runTask(gctx, wf, task.ID)
			})
		}

		// Task outcomes are tracked in the workflow, not returned here
		if err := g.Wait(); err != nil {
			return err
		}
	}
}
