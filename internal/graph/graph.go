// Package graph computes dependency readiness over a workspace's tasks.
package graph

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// BlockReason explains why a dependency does not satisfy its dependent.
type BlockReason string

const (
	// BlockMissing means the dependency id does not resolve in the workspace.
	BlockMissing BlockReason = "missing"
	// BlockNotCompleted means the dependency exists but is not completed.
	BlockNotCompleted BlockReason = "not_completed"
)

// Blocker is one unmet dependency of a task.
type Blocker struct {
	DependencyID string            `json:"dependency_id"`
	Reason       BlockReason       `json:"reason"`
	Status       models.TaskStatus `json:"status,omitempty"`
}

// DependencyGraph is a directed graph of "blocked by" edges between the tasks
// of a single workspace. Dependencies that do not resolve inside the workspace
// are kept as unresolved edges and permanently block their dependents.
type DependencyGraph struct {
	mu          sync.RWMutex
	workspaceID string
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges  map[string][]string
	logger *slog.Logger
}

// New creates an empty dependency graph for a workspace.
func New(workspaceID string) *DependencyGraph {
	return &DependencyGraph{
		workspaceID: workspaceID,
		nodes:       make(map[string]*models.Task),
		edges:       make(map[string][]string),
		logger:      slog.Default().With("component", "graph"),
	}
}

// SetLogger replaces the graph's logger.
func (g *DependencyGraph) SetLogger(l *slog.Logger) {
	if l != nil {
		g.logger = l.With("component", "graph")
	}
}

// Build registers tasks as nodes. Tasks from other workspaces are ignored, so a
// dependency that points at them stays unresolved. Unknown dependencies are not
// an error.
func (g *DependencyGraph) Build(tasks []*models.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range tasks {
		if task == nil || task.WorkspaceID != g.workspaceID {
			continue
		}
		g.nodes[task.ID] = task
		g.edges[task.ID] = append([]string(nil), task.Dependencies...)
	}
	g.logger.Debug("graph built", "workspace", g.workspaceID, "nodes", len(g.nodes))
}

// Ready returns pending tasks whose dependencies all resolve to completed
// tasks, ordered by creation time then id.
func (g *DependencyGraph) Ready() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Task
	for id, task := range g.nodes {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if len(g.blockersLocked(id)) == 0 {
			ready = append(ready, task)
		}
	}
	SortByCreation(ready)
	return ready
}

// Blockers returns the unmet dependencies of a task, in declaration order.
// A task that is not in the graph has no blockers.
func (g *DependencyGraph) Blockers(taskID string) []Blocker {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blockersLocked(taskID)
}

func (g *DependencyGraph) blockersLocked(taskID string) []Blocker {
	var blockers []Blocker
	for _, depID := range g.edges[taskID] {
		dep, ok := g.nodes[depID]
		if !ok {
			blockers = append(blockers, Blocker{DependencyID: depID, Reason: BlockMissing})
			continue
		}
		if dep.Status != models.TaskStatusCompleted {
			blockers = append(blockers, Blocker{DependencyID: depID, Reason: BlockNotCompleted, Status: dep.Status})
		}
	}
	return blockers
}

// HasCycle returns true if the resolved part of the graph contains a circular
// dependency. Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

func (g *DependencyGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			if _, ok := g.nodes[depID]; !ok {
				continue
			}
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.sortedIDsLocked() {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns task IDs so that every resolved dependency comes
// before its dependents. Unresolved dependencies are skipped.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			if _, ok := g.nodes[depID]; ok {
				visit(depID)
			}
		}
		result = append(result, id)
	}

	for _, id := range g.sortedIDsLocked() {
		visit(id)
	}
	return result, nil
}

// sortedIDsLocked returns node ids in creation order so traversal output is
// deterministic.
func (g *DependencyGraph) sortedIDsLocked() []string {
	tasks := make([]*models.Task, 0, len(g.nodes))
	for _, t := range g.nodes {
		tasks = append(tasks, t)
	}
	SortByCreation(tasks)
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// GetDependents returns the IDs of tasks that depend on the given task, sorted.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// FindReady is the readiness query: pending tasks of the workspace whose every
// dependency resolves, in the same workspace, to a completed task.
func FindReady(tasks []*models.Task, workspaceID string) []*models.Task {
	g := New(workspaceID)
	g.Build(tasks)
	return g.Ready()
}

// SortByCreation orders tasks by CreatedAt ascending, breaking ties by ID.
func SortByCreation(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
