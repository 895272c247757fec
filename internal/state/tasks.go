package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/tasks"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// TaskStore persists tasks in the tasks table.
type TaskStore struct {
	db *DB
}

var _ tasks.Store = (*TaskStore)(nil)

// NewTaskStore creates a task store on a migrated database.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, workspace_id, title, objective, scope, acceptance_criteria,
	verification_commands, assigned_to, status, dependencies, parallel_group,
	completion_summary, verification_verdict, created_at, updated_at`

// Get retrieves a task by ID.
func (s *TaskStore) Get(_ context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("task", id)
	}
	if err != nil {
		return nil, errs.Storage("get task", err)
	}
	return task, nil
}

// Save inserts or replaces a task.
func (s *TaskStore) Save(_ context.Context, t *models.Task) error {
	if t == nil || t.ID == "" {
		return errs.Validation("save task", "task id is required")
	}
	criteria, err := encodeList(t.AcceptanceCriteria)
	if err != nil {
		return errs.Storage("save task", err)
	}
	commands, err := encodeList(t.VerificationCommands)
	if err != nil {
		return errs.Storage("save task", err)
	}
	deps, err := encodeList(t.Dependencies)
	if err != nil {
		return errs.Storage("save task", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			title = excluded.title,
			objective = excluded.objective,
			scope = excluded.scope,
			acceptance_criteria = excluded.acceptance_criteria,
			verification_commands = excluded.verification_commands,
			assigned_to = excluded.assigned_to,
			status = excluded.status,
			dependencies = excluded.dependencies,
			parallel_group = excluded.parallel_group,
			completion_summary = excluded.completion_summary,
			verification_verdict = excluded.verification_verdict,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, t.ID, t.WorkspaceID, t.Title, t.Objective, t.Scope, criteria, commands,
		t.AssignedTo, string(t.Status), deps, t.ParallelGroup, t.CompletionSummary,
		string(t.VerificationVerdict), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return errs.Storage("save task", err)
	}
	return nil
}

// Delete removes a task by ID.
func (s *TaskStore) Delete(_ context.Context, id string) error {
	result, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return errs.Storage("delete task", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errs.Storage("delete task", err)
	}
	if n == 0 {
		return errs.NotFound("task", id)
	}
	return nil
}

// ListByWorkspace returns every task in a workspace.
func (s *TaskStore) ListByWorkspace(_ context.Context, workspaceID string) ([]*models.Task, error) {
	return s.list(`SELECT `+taskColumns+` FROM tasks WHERE workspace_id = ? ORDER BY created_at, id`, workspaceID)
}

// ListByStatus returns a workspace's tasks in the given status.
func (s *TaskStore) ListByStatus(_ context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error) {
	return s.list(`SELECT `+taskColumns+` FROM tasks WHERE workspace_id = ? AND status = ? ORDER BY created_at, id`,
		workspaceID, string(status))
}

// UpdateStatus overwrites a task's status and updated_at.
func (s *TaskStore) UpdateStatus(_ context.Context, id string, status models.TaskStatus, at time.Time) error {
	result, err := s.db.Exec("UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(at), id)
	if err != nil {
		return errs.Storage("update task status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errs.Storage("update task status", err)
	}
	if n == 0 {
		return errs.NotFound("task", id)
	}
	return nil
}

func (s *TaskStore) list(query string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storage("list tasks", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errs.Storage("scan task", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("list tasks", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		t                        models.Task
		criteria, commands, deps string
		status, verdict          string
		createdAt, updatedAt     string
	)
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Objective, &t.Scope, &criteria,
		&commands, &t.AssignedTo, &status, &deps, &t.ParallelGroup,
		&t.CompletionSummary, &verdict, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.VerificationVerdict = models.VerificationVerdict(verdict)

	if t.AcceptanceCriteria, err = decodeList(criteria); err != nil {
		return nil, fmt.Errorf("decode acceptance criteria: %w", err)
	}
	if t.VerificationCommands, err = decodeList(commands); err != nil {
		return nil, fmt.Errorf("decode verification commands: %w", err)
	}
	if t.Dependencies, err = decodeList(deps); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, err
	}
	return items, nil
}
