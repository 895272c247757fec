package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func task(id string, status models.TaskStatus, offset int, deps ...string) *models.Task {
	return &models.Task{
		ID:           id,
		Title:        "Task " + id,
		Status:       status,
		Dependencies: deps,
		WorkspaceID:  "ws",
		CreatedAt:    base.Add(time.Duration(offset) * time.Minute),
	}
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFindReadyNoDependencies(t *testing.T) {
	tasks := []*models.Task{
		task("b", models.TaskStatusPending, 2),
		task("a", models.TaskStatusPending, 1),
		task("c", models.TaskStatusInProgress, 0),
	}

	got := ids(FindReady(tasks, "ws"))
	want := []string{"a", "b"}
	if !equalIDs(got, want) {
		t.Errorf("FindReady = %v, want %v", got, want)
	}
}

func TestFindReadyRequiresCompletedDependencies(t *testing.T) {
	tests := []struct {
		name      string
		depStatus models.TaskStatus
		wantReady bool
	}{
		{"completed dependency satisfies", models.TaskStatusCompleted, true},
		{"pending dependency blocks", models.TaskStatusPending, false},
		{"in progress dependency blocks", models.TaskStatusInProgress, false},
		{"review required blocks", models.TaskStatusReviewRequired, false},
		{"needs fix blocks", models.TaskStatusNeedsFix, false},
		{"cancelled dependency blocks", models.TaskStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := []*models.Task{
				task("dep", tt.depStatus, 0),
				task("child", models.TaskStatusPending, 1, "dep"),
			}
			ready := ids(FindReady(tasks, "ws"))
			found := false
			for _, id := range ready {
				if id == "child" {
					found = true
				}
			}
			if found != tt.wantReady {
				t.Errorf("child ready = %v, want %v (ready set %v)", found, tt.wantReady, ready)
			}
		})
	}
}

func TestFindReadyMissingDependencyFailsClosed(t *testing.T) {
	tasks := []*models.Task{
		task("a", models.TaskStatusCompleted, 0),
		task("b", models.TaskStatusPending, 1, "a", "ghost"),
	}

	if got := FindReady(tasks, "ws"); len(got) != 0 {
		t.Errorf("expected no ready tasks, got %v", ids(got))
	}
}

func TestFindReadyIgnoresOtherWorkspaces(t *testing.T) {
	other := task("dep", models.TaskStatusCompleted, 0)
	other.WorkspaceID = "elsewhere"
	tasks := []*models.Task{
		other,
		task("child", models.TaskStatusPending, 1, "dep"),
	}

	if got := FindReady(tasks, "ws"); len(got) != 0 {
		t.Errorf("cross-workspace dependency must not satisfy readiness, got %v", ids(got))
	}
	if got := FindReady(tasks, "elsewhere"); len(got) != 0 {
		t.Errorf("completed task is never ready, got %v", ids(got))
	}
}

func TestFindReadyDeterministicOrder(t *testing.T) {
	tasks := []*models.Task{
		task("z", models.TaskStatusPending, 0),
		task("y", models.TaskStatusPending, 0),
		task("x", models.TaskStatusPending, -1),
	}

	for i := 0; i < 5; i++ {
		got := ids(FindReady(tasks, "ws"))
		want := []string{"x", "y", "z"}
		if !equalIDs(got, want) {
			t.Fatalf("run %d: FindReady = %v, want %v", i, got, want)
		}
	}
}

func TestBlockers(t *testing.T) {
	g := New("ws")
	g.Build([]*models.Task{
		task("a", models.TaskStatusInProgress, 0),
		task("b", models.TaskStatusCompleted, 1),
		task("c", models.TaskStatusPending, 2, "a", "b", "missing"),
	})

	blockers := g.Blockers("c")
	if len(blockers) != 2 {
		t.Fatalf("expected 2 blockers, got %d: %+v", len(blockers), blockers)
	}
	if blockers[0].DependencyID != "a" || blockers[0].Reason != BlockNotCompleted || blockers[0].Status != models.TaskStatusInProgress {
		t.Errorf("unexpected first blocker: %+v", blockers[0])
	}
	if blockers[1].DependencyID != "missing" || blockers[1].Reason != BlockMissing {
		t.Errorf("unexpected second blocker: %+v", blockers[1])
	}
}

func TestGraphCycleDetection(t *testing.T) {
	g := New("ws")
	g.Build([]*models.Task{
		task("A", models.TaskStatusPending, 0, "B"),
		task("B", models.TaskStatusPending, 1, "A"),
	})

	if !g.HasCycle() {
		t.Error("expected cycle")
	}
	if _, err := g.TopologicalSort(); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
	if ready := g.Ready(); len(ready) != 0 {
		t.Errorf("tasks in a cycle are never ready, got %v", ids(ready))
	}
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := New("ws")
	g.Build([]*models.Task{
		task("c", models.TaskStatusPending, 0, "b"),
		task("b", models.TaskStatusPending, 1, "a", "unknown"),
		task("a", models.TaskStatusPending, 2),
	})

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if !equalIDs(order, want) {
		t.Errorf("TopologicalSort = %v, want %v", order, want)
	}
}

func TestDependentsAndDependencies(t *testing.T) {
	g := New("ws")
	g.Build([]*models.Task{
		task("root", models.TaskStatusCompleted, 0),
		task("x", models.TaskStatusPending, 1, "root"),
		task("y", models.TaskStatusPending, 2, "root"),
	})

	if got := g.GetDependents("root"); !equalIDs(got, []string{"x", "y"}) {
		t.Errorf("GetDependents = %v", got)
	}
	deps := g.GetDependencies("x")
	deps[0] = "mutated"
	if g.GetDependencies("x")[0] != "root" {
		t.Error("GetDependencies must return a copy")
	}
	if g.Size() != 3 {
		t.Errorf("Size = %d, want 3", g.Size())
	}
	if g.GetTask("nope") != nil {
		t.Error("GetTask of unknown id should be nil")
	}
}
