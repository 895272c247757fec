package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Service applies task rules on top of a Store.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a task service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tasks")
	return s
}

// CreateInput holds the caller-supplied fields of a new task.
type CreateInput struct {
	// ID is optional; a uuid is generated when empty.
	ID                   string
	WorkspaceID          string
	Title                string
	Objective            string
	Scope                string
	AcceptanceCriteria   []string
	VerificationCommands []string
	Dependencies         []string
	ParallelGroup        string
	AssignedTo           string
}

// Create validates input and stores a new pending task. Dependencies are not
// required to exist yet; an unresolved one simply keeps the task blocked.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Task, error) {
	if strings.TrimSpace(in.WorkspaceID) == "" {
		return nil, errs.Validation("create task", "workspace id is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, errs.Validation("create task", "title is required")
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	} else if _, err := s.store.Get(ctx, id); err == nil {
		return nil, errs.Validation("create task", "task %s already exists", id)
	} else if !errs.IsNotFound(err) {
		return nil, fmt.Errorf("create task: %w", err)
	}

	deps := make([]string, 0, len(in.Dependencies))
	seen := make(map[string]bool, len(in.Dependencies))
	for _, d := range in.Dependencies {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		if d == id {
			return nil, errs.Validation("create task", "task %s cannot depend on itself", id)
		}
		seen[d] = true
		deps = append(deps, d)
	}

	now := s.now().UTC()
	task := &models.Task{
		ID:                   id,
		Title:                strings.TrimSpace(in.Title),
		Objective:            in.Objective,
		Scope:                in.Scope,
		AcceptanceCriteria:   in.AcceptanceCriteria,
		VerificationCommands: in.VerificationCommands,
		AssignedTo:           in.AssignedTo,
		Status:               models.TaskStatusPending,
		Dependencies:         deps,
		ParallelGroup:        in.ParallelGroup,
		WorkspaceID:          in.WorkspaceID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.logger.Debug("task created", "task_id", id, "workspace", in.WorkspaceID, "dependencies", len(deps))
	return task, nil
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.store.Get(ctx, id)
}

// List returns every task in the workspace in creation order.
func (s *Service) List(ctx context.Context, workspaceID string) ([]*models.Task, error) {
	tasks, err := s.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	graph.SortByCreation(tasks)
	return tasks, nil
}

// ListByStatus returns the workspace's tasks in status, in creation order.
func (s *Service) ListByStatus(ctx context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error) {
	if !status.Valid() {
		return nil, errs.Validation("list tasks", "unknown status %q", status)
	}
	tasks, err := s.store.ListByStatus(ctx, workspaceID, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	graph.SortByCreation(tasks)
	return tasks, nil
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// FindReady returns pending tasks whose dependencies are all completed tasks
// in the same workspace, ordered by creation time then id.
func (s *Service) FindReady(ctx context.Context, workspaceID string) ([]*models.Task, error) {
	tasks, err := s.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("find ready tasks: %w", err)
	}
	return graph.FindReady(tasks, workspaceID), nil
}

// BlockedTask is a pending task together with its unmet dependencies.
type BlockedTask struct {
	Task     *models.Task    `json:"task"`
	Blockers []graph.Blocker `json:"blockers"`
}

// Blocked returns pending tasks that are not ready, with the reason for each.
func (s *Service) Blocked(ctx context.Context, workspaceID string) ([]BlockedTask, error) {
	tasks, err := s.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("find blocked tasks: %w", err)
	}
	g := graph.New(workspaceID)
	g.SetLogger(s.logger)
	g.Build(tasks)

	graph.SortByCreation(tasks)
	var blocked []BlockedTask
	for _, t := range tasks {
		if t.Status != models.TaskStatusPending {
			continue
		}
		if b := g.Blockers(t.ID); len(b) > 0 {
			blocked = append(blocked, BlockedTask{Task: t, Blockers: b})
		}
	}
	return blocked, nil
}

// UpdateStatus overwrites a task's status. Any transition is allowed and
// repeating the same write is harmless; the last write wins.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, errs.Validation("update task status", "unknown status %q", status)
	}
	if err := s.store.UpdateStatus(ctx, id, status, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	s.logger.Debug("task status updated", "task_id", id, "status", status)
	return s.store.Get(ctx, id)
}

// Complete marks a task completed with the agent's summary and an optional
// verification verdict.
func (s *Service) Complete(ctx context.Context, id, summary string, verdict models.VerificationVerdict) (*models.Task, error) {
	if verdict != "" && !verdict.Valid() {
		return nil, errs.Validation("complete task", "unknown verdict %q", verdict)
	}
	return s.modify(ctx, id, "complete task", func(t *models.Task) {
		t.Status = models.TaskStatusCompleted
		t.CompletionSummary = summary
		t.VerificationVerdict = verdict
	})
}

// RecordVerdict stores a verification verdict. An approved task becomes
// completed; a rejected one moves to needs_fix; blocked marks it blocked.
func (s *Service) RecordVerdict(ctx context.Context, id string, verdict models.VerificationVerdict) (*models.Task, error) {
	if !verdict.Valid() {
		return nil, errs.Validation("record verdict", "unknown verdict %q", verdict)
	}
	return s.modify(ctx, id, "record verdict", func(t *models.Task) {
		t.VerificationVerdict = verdict
		switch verdict {
		case models.VerdictApproved:
			t.Status = models.TaskStatusCompleted
		case models.VerdictNotApproved:
			t.Status = models.TaskStatusNeedsFix
		case models.VerdictBlocked:
			t.Status = models.TaskStatusBlocked
		}
	})
}

// Assign records which agent is working on a task.
func (s *Service) Assign(ctx context.Context, id, agent string) (*models.Task, error) {
	return s.modify(ctx, id, "assign task", func(t *models.Task) {
		t.AssignedTo = agent
	})
}

func (s *Service) modify(ctx context.Context, id, op string, fn func(*models.Task)) (*models.Task, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	fn(task)
	task.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return task, nil
}
