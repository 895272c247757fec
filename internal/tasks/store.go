// Package tasks owns task records for a workspace and answers readiness
// queries over them.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Store persists task records. Get and UpdateStatus return an errs NotFound
// error for unknown ids.
type Store interface {
	Get(ctx context.Context, id string) (*models.Task, error)
	Save(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id string) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*models.Task, error)
	ListByStatus(ctx context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error)
	UpdateStatus(ctx context.Context, id string, status models.TaskStatus, at time.Time) error
}

// MemoryStore is an in-process Store. Records are copied on the way in and out.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

// Get returns a copy of the task with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errs.NotFound("task", id)
	}
	return t.Clone(), nil
}

// Save inserts or replaces a task.
func (s *MemoryStore) Save(_ context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return errs.Validation("save task", "task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Delete removes a task. Deleting an unknown id is a NotFound error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return errs.NotFound("task", id)
	}
	delete(s.tasks, id)
	return nil
}

// ListByWorkspace returns every task in the workspace.
func (s *MemoryStore) ListByWorkspace(_ context.Context, workspaceID string) ([]*models.Task, error) {
	return s.filter(func(t *models.Task) bool { return t.WorkspaceID == workspaceID }), nil
}

// ListByStatus returns the workspace's tasks in the given status.
func (s *MemoryStore) ListByStatus(_ context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error) {
	return s.filter(func(t *models.Task) bool {
		return t.WorkspaceID == workspaceID && t.Status == status
	}), nil
}

// UpdateStatus overwrites a task's status and stamps UpdatedAt.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status models.TaskStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errs.NotFound("task", id)
	}
	t.Status = status
	t.UpdatedAt = at
	return nil
}

func (s *MemoryStore) filter(keep func(*models.Task) bool) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}
