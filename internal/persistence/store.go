// Package persistence keeps a history of workflow runs in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskflow/internal/scheduler"
)

// ErrNotFound is returned when a workflow or task is not in the store.
var ErrNotFound = errors.New("not found")

// WorkflowSummary is one row of the run history.
type WorkflowSummary struct {
	ID              string
	Name            string
	Status          scheduler.WorkflowStatus
	Template        string // From the template_name metadata, if any
	Tasks           int
	Completed       int
	Failed          int
	TotalIterations int
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// Store defines the persistence interface for workflow runs.
type Store interface {
	// SaveWorkflow inserts or replaces a workflow with all its tasks.
	SaveWorkflow(ctx context.Context, snap scheduler.WorkflowSnapshot) error
	GetWorkflow(ctx context.Context, id string) (scheduler.WorkflowSnapshot, error)
	// ListWorkflows returns summaries newest first. limit <= 0 means all.
	ListWorkflows(ctx context.Context, limit int) ([]WorkflowSummary, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// TaskHistory returns every recorded attempt of one task.
	TaskHistory(ctx context.Context, workflowID, taskID string) ([]scheduler.Revision, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each call
// gets its own database, shared by that store's connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps the foreign_keys pragma in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
