package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/taskflow/internal/scheduler"
)

func insertRevisions(ctx context.Context, tx *sql.Tx, workflowID string, task *scheduler.Task) error {
	for _, rev := range task.Revisions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO revisions (workflow_id, task_id, attempt, output, success, executor_id, error_detail, accepted, feedback, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, workflowID, task.ID, rev.Attempt, rev.Result.Output, rev.Result.Success, rev.Result.ExecutorID,
			rev.Result.ErrorDetail, rev.Accepted, rev.Feedback, toUnix(rev.Result.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to insert revision %d of task %s: %w", rev.Attempt, task.ID, err)
		}
	}
	return nil
}

// loadRevisions returns revisions grouped by task, each in attempt order.
// An empty taskID loads the whole workflow.
func (s *SQLiteStore) loadRevisions(ctx context.Context, workflowID, taskID string) (map[string][]scheduler.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, attempt, output, success, executor_id, error_detail, accepted, feedback, timestamp
		FROM revisions
		WHERE workflow_id = ? AND (? = '' OR task_id = ?)
		ORDER BY task_id, attempt ASC
	`, workflowID, taskID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	revisions := make(map[string][]scheduler.Revision)
	for rows.Next() {
		var (
			id  string
			rev scheduler.Revision
			ts  int64
		)
		err := rows.Scan(&id, &rev.Attempt, &rev.Result.Output, &rev.Result.Success, &rev.Result.ExecutorID,
			&rev.Result.ErrorDetail, &rev.Accepted, &rev.Feedback, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		rev.Result.TaskID = id
		rev.Result.Timestamp = fromUnix(ts)
		revisions[id] = append(revisions[id], rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}
	return revisions, nil
}

// TaskHistory returns every recorded attempt of a task in order.
// Returns an empty slice (not nil) if the task never ran.
func (s *SQLiteStore) TaskHistory(ctx context.Context, workflowID, taskID string) ([]scheduler.Revision, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM tasks WHERE workflow_id = ? AND id = ?
	`, workflowID, taskID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s in workflow %s: %w", taskID, workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	revisions, err := s.loadRevisions(ctx, workflowID, taskID)
	if err != nil {
		return nil, err
	}
	if revs := revisions[taskID]; revs != nil {
		return revs, nil
	}
	return []scheduler.Revision{}, nil
}
