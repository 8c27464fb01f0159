package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are stored as Unix nanoseconds; 0 means unset.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		config TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER NOT NULL DEFAULT 0,
		saved_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_workflows_created_at ON workflows(created_at);

	CREATE TABLE IF NOT EXISTS tasks (
		workflow_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		expected_output TEXT NOT NULL,
		role TEXT NOT NULL,
		priority INTEGER NOT NULL,
		resources TEXT,
		status TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		failure TEXT NOT NULL,
		failure_detail TEXT NOT NULL,
		cascade_from TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (workflow_id, id),
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		workflow_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (workflow_id, task_id, depends_on_id),
		FOREIGN KEY (workflow_id, task_id) REFERENCES tasks(workflow_id, id) ON DELETE CASCADE,
		FOREIGN KEY (workflow_id, depends_on_id) REFERENCES tasks(workflow_id, id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task ON task_dependencies(workflow_id, task_id);

	CREATE TABLE IF NOT EXISTS revisions (
		workflow_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		output TEXT NOT NULL,
		success INTEGER NOT NULL,
		executor_id TEXT NOT NULL,
		error_detail TEXT NOT NULL,
		accepted INTEGER NOT NULL,
		feedback TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (workflow_id, task_id, attempt),
		FOREIGN KEY (workflow_id, task_id) REFERENCES tasks(workflow_id, id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
