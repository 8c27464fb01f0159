package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskflow/internal/scheduler"
)

// SaveWorkflow saves or replaces a workflow. Tasks, dependencies and
// revisions are rewritten as a whole inside one transaction.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, snap scheduler.WorkflowSnapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("workflow has no id")
	}

	config, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	metadata, err := encodeJSON(snap.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, status, config, metadata, created_at, started_at, completed_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			config = excluded.config,
			metadata = excluded.metadata,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			saved_at = excluded.saved_at
	`, snap.ID, snap.Name, snap.Description, snap.Status.String(), string(config), metadata,
		toUnix(snap.CreatedAt), toUnix(snap.StartedAt), toUnix(snap.CompletedAt), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert workflow: %w", err)
	}

	// Cascades to dependencies and revisions.
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE workflow_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("failed to delete old tasks: %w", err)
	}

	for i := range snap.Tasks {
		if err := insertTask(ctx, tx, snap.ID, i, &snap.Tasks[i]); err != nil {
			return err
		}
	}
	// Dependencies go in after every task exists, so forward references satisfy the foreign key.
	for i := range snap.Tasks {
		task := &snap.Tasks[i]
		for pos, depID := range task.ContextTaskIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (workflow_id, task_id, depends_on_id, position)
				VALUES (?, ?, ?, ?)
			`, snap.ID, task.ID, depID, pos)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}
		if err := insertRevisions(ctx, tx, snap.ID, task); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, workflowID string, position int, task *scheduler.Task) error {
	resources, err := encodeJSON(task.Resources)
	if err != nil {
		return fmt.Errorf("failed to encode resources of task %s: %w", task.ID, err)
	}
	metadata, err := encodeJSON(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata of task %s: %w", task.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (workflow_id, id, position, name, description, expected_output, role, priority,
			resources, status, iteration, failure, failure_detail, cascade_from, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, workflowID, task.ID, position, task.Name, task.Description, task.ExpectedOutput, string(task.Role), int(task.Priority),
		resources, task.Status.String(), task.Iteration, string(task.Failure), task.FailureDetail, task.CascadeFrom, metadata,
		toUnix(task.CreatedAt), toUnix(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}

// GetWorkflow loads a workflow with its tasks in insertion order.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (scheduler.WorkflowSnapshot, error) {
	var (
		snap                    scheduler.WorkflowSnapshot
		status, config          string
		metadata                sql.NullString
		created, started, compl int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, config, metadata, created_at, started_at, completed_at
		FROM workflows
		WHERE id = ?
	`, id).Scan(&snap.ID, &snap.Name, &snap.Description, &status, &config, &metadata, &created, &started, &compl)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return snap, fmt.Errorf("failed to query workflow: %w", err)
	}

	if err := snap.Status.UnmarshalText([]byte(status)); err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(config), &snap.Config); err != nil {
		return snap, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := decodeJSON(metadata, &snap.Metadata); err != nil {
		return snap, fmt.Errorf("failed to decode metadata: %w", err)
	}
	snap.CreatedAt, snap.StartedAt, snap.CompletedAt = fromUnix(created), fromUnix(started), fromUnix(compl)

	if snap.Tasks, err = s.loadTasks(ctx, id); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *SQLiteStore) loadTasks(ctx context.Context, workflowID string) ([]scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, expected_output, role, priority, resources, status, iteration,
			failure, failure_detail, cascade_from, metadata, created_at, updated_at
		FROM tasks
		WHERE workflow_id = ?
		ORDER BY position
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []scheduler.Task{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			task                scheduler.Task
			role, status, fail  string
			priority            int
			resources, metadata sql.NullString
			created, updated    int64
		)
		err := rows.Scan(&task.ID, &task.Name, &task.Description, &task.ExpectedOutput, &role, &priority,
			&resources, &status, &task.Iteration, &fail, &task.FailureDetail, &task.CascadeFrom, &metadata,
			&created, &updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if err := task.Status.UnmarshalText([]byte(status)); err != nil {
			return nil, err
		}
		if err := decodeJSON(resources, &task.Resources); err != nil {
			return nil, fmt.Errorf("failed to decode resources of task %s: %w", task.ID, err)
		}
		if err := decodeJSON(metadata, &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of task %s: %w", task.ID, err)
		}
		task.Role = scheduler.Role(role)
		task.Priority = scheduler.Priority(priority)
		task.Failure = scheduler.FailureKind(fail)
		task.CreatedAt, task.UpdatedAt = fromUnix(created), fromUnix(updated)

		index[task.ID] = len(tasks)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	deps, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		WHERE workflow_id = ?
		ORDER BY task_id, position
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer deps.Close()

	for deps.Next() {
		var taskID, depID string
		if err := deps.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if i, ok := index[taskID]; ok {
			tasks[i].ContextTaskIDs = append(tasks[i].ContextTaskIDs, depID)
		}
	}
	if err := deps.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	deps.Close()

	revisions, err := s.loadRevisions(ctx, workflowID, "")
	if err != nil {
		return nil, err
	}
	for taskID, revs := range revisions {
		if i, ok := index[taskID]; ok {
			tasks[i].Revisions = revs
		}
	}
	return tasks, nil
}

// ListWorkflows returns run summaries, newest first.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, limit int) ([]WorkflowSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.status, w.metadata, w.created_at, w.completed_at,
			COUNT(t.id),
			COALESCE(SUM(CASE WHEN t.status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN t.status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(t.iteration), 0)
		FROM workflows w
		LEFT JOIN tasks t ON t.workflow_id = w.id
		GROUP BY w.id
		ORDER BY w.created_at DESC, w.saved_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	summaries := []WorkflowSummary{}
	for rows.Next() {
		var (
			sum            WorkflowSummary
			status         string
			metadata       sql.NullString
			created, compl int64
			meta           map[string]string
		)
		err := rows.Scan(&sum.ID, &sum.Name, &status, &metadata, &created, &compl,
			&sum.Tasks, &sum.Completed, &sum.Failed, &sum.TotalIterations)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		if err := sum.Status.UnmarshalText([]byte(status)); err != nil {
			return nil, err
		}
		if err := decodeJSON(metadata, &meta); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		sum.Template = meta["template_name"]
		sum.CreatedAt, sum.CompletedAt = fromUnix(created), fromUnix(compl)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return summaries, nil
}

// DeleteWorkflow removes a workflow and everything recorded for it.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

// encodeJSON stores empty values as NULL.
func encodeJSON[T any](v T) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if s := string(data); s == "null" || s == "{}" || s == "[]" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}
