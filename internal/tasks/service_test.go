package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), WithClock(stepClock()))
}

func mustCreate(t *testing.T, svc *Service, in CreateInput) *models.Task {
	t.Helper()
	if in.WorkspaceID == "" {
		in.WorkspaceID = "ws"
	}
	task, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	return task
}

func TestCreateDefaults(t *testing.T) {
	svc := newTestService(t)
	task := mustCreate(t, svc, CreateInput{Title: "  Write parser ", Dependencies: []string{"a", "a", " ", "b"}})

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Write parser", task.Title)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, []string{"a", "b"}, task.Dependencies)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Title: "no workspace"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{WorkspaceID: "ws"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{WorkspaceID: "ws", ID: "t1", Title: "self", Dependencies: []string{"t1"}})
	assert.ErrorIs(t, err, errs.ErrValidation)

	mustCreate(t, svc, CreateInput{ID: "t2", Title: "first"})
	_, err = svc.Create(ctx, CreateInput{WorkspaceID: "ws", ID: "t2", Title: "duplicate"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestFindReadyLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := mustCreate(t, svc, CreateInput{ID: "a", Title: "A"})
	b := mustCreate(t, svc, CreateInput{ID: "b", Title: "B", Dependencies: []string{"a"}})
	c := mustCreate(t, svc, CreateInput{ID: "c", Title: "C", Dependencies: []string{"a", "missing"}})

	ready, err := svc.FindReady(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID, ready[0].ID)

	_, err = svc.Complete(ctx, a.ID, "done", models.VerdictApproved)
	require.NoError(t, err)

	ready, err = svc.FindReady(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, b.ID, ready[0].ID, "c stays blocked on a missing dependency")

	blocked, err := svc.Blocked(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, c.ID, blocked[0].Task.ID)
	require.Len(t, blocked[0].Blockers, 1)
	assert.Equal(t, graph.BlockMissing, blocked[0].Blockers[0].Reason)
}

func TestReadinessRevokedWhenDependencyReopens(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, CreateInput{ID: "a", Title: "A"})
	mustCreate(t, svc, CreateInput{ID: "b", Title: "B", Dependencies: []string{"a"}})

	_, err := svc.UpdateStatus(ctx, "a", models.TaskStatusCompleted)
	require.NoError(t, err)
	ready, err := svc.FindReady(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, ready, 1)

	_, err = svc.UpdateStatus(ctx, "a", models.TaskStatusNeedsFix)
	require.NoError(t, err)
	ready, err = svc.FindReady(ctx, "ws")
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestUpdateStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, svc, CreateInput{Title: "T"})

	first, err := svc.UpdateStatus(ctx, task.ID, models.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, first.Status)
	assert.True(t, first.UpdatedAt.After(task.UpdatedAt))

	again, err := svc.UpdateStatus(ctx, task.ID, models.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, again.Status)

	// Any transition is permitted, including back to pending.
	back, err := svc.UpdateStatus(ctx, task.ID, models.TaskStatusPending)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, back.Status)

	_, err = svc.UpdateStatus(ctx, task.ID, models.TaskStatus("done"))
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.UpdateStatus(ctx, "nope", models.TaskStatusCompleted)
	assert.True(t, errs.IsNotFound(err))
}

func TestCompleteAndAssign(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, svc, CreateInput{Title: "T"})

	assigned, err := svc.Assign(ctx, task.ID, "agent-7")
	require.NoError(t, err)
	assert.Equal(t, "agent-7", assigned.AssignedTo)

	_, err = svc.Complete(ctx, task.ID, "summary", models.VerificationVerdict("maybe"))
	assert.ErrorIs(t, err, errs.ErrValidation)

	done, err := svc.Complete(ctx, task.ID, "all good", "")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	assert.Equal(t, "all good", done.CompletionSummary)
	assert.Empty(t, done.VerificationVerdict)

	_, err = svc.Assign(ctx, "missing", "x")
	assert.True(t, errs.IsNotFound(err))
}

func TestRecordVerdict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, svc, CreateInput{Title: "T"})

	rejected, err := svc.RecordVerdict(ctx, task.ID, models.VerdictNotApproved)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusNeedsFix, rejected.Status)
	assert.Equal(t, models.VerdictNotApproved, rejected.VerificationVerdict)

	approved, err := svc.RecordVerdict(ctx, task.ID, models.VerdictApproved)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, approved.Status)

	_, err = svc.RecordVerdict(ctx, task.ID, "")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = svc.RecordVerdict(ctx, "missing", models.VerdictBlocked)
	assert.True(t, errs.IsNotFound(err))
}

func TestListOrderingAndStatusFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := mustCreate(t, svc, CreateInput{Title: "first"})
	second := mustCreate(t, svc, CreateInput{Title: "second"})
	mustCreate(t, svc, CreateInput{WorkspaceID: "other", Title: "elsewhere"})

	all, err := svc.List(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	_, err = svc.UpdateStatus(ctx, second.ID, models.TaskStatusBlocked)
	require.NoError(t, err)
	blocked, err := svc.ListByStatus(ctx, "ws", models.TaskStatusBlocked)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, second.ID, blocked[0].ID)

	_, err = svc.ListByStatus(ctx, "ws", models.TaskStatus("bogus"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, svc, CreateInput{Title: "T"})

	require.NoError(t, svc.Delete(ctx, task.ID))
	_, err := svc.Get(ctx, task.ID)
	assert.True(t, errs.IsNotFound(err))
	assert.True(t, errs.IsNotFound(svc.Delete(ctx, task.ID)))
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	task := &models.Task{ID: "x", WorkspaceID: "ws", Dependencies: []string{"a"}}
	require.NoError(t, store.Save(ctx, task))

	task.Dependencies[0] = "changed"
	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Dependencies)

	got.Title = "mutated"
	again, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, again.Title)
}
