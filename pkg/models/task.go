// Package models holds the domain types shared across conductor packages.
package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusReviewRequired indicates the work is waiting for verification.
	TaskStatusReviewRequired TaskStatus = "review_required"
	// TaskStatusCompleted indicates the task finished and satisfies its dependents.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusNeedsFix indicates verification rejected the work.
	TaskStatusNeedsFix TaskStatus = "needs_fix"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCancelled indicates the task was abandoned.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusReviewRequired,
	TaskStatusCompleted,
	TaskStatusNeedsFix,
	TaskStatusBlocked,
	TaskStatusCancelled,
}

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusReviewRequired,
		TaskStatusCompleted, TaskStatusNeedsFix, TaskStatusBlocked, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseTaskStatus accepts the canonical value case-insensitively, with either
// '-' or '_' as the word separator.
func ParseTaskStatus(s string) (TaskStatus, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	status := TaskStatus(normalized)
	if !status.Valid() {
		return "", fmt.Errorf("unknown task status %q", s)
	}
	return status, nil
}

// VerificationVerdict is the outcome recorded when a task's work is verified.
type VerificationVerdict string

const (
	VerdictApproved    VerificationVerdict = "approved"
	VerdictNotApproved VerificationVerdict = "not_approved"
	VerdictBlocked     VerificationVerdict = "blocked"
)

// Valid returns true if the verdict is a known value.
func (v VerificationVerdict) Valid() bool {
	switch v {
	case VerdictApproved, VerdictNotApproved, VerdictBlocked:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in a workspace's task graph.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Objective describes what the task must achieve.
	Objective string `json:"objective"`
	// Scope optionally bounds which parts of the workspace the task may touch.
	Scope string `json:"scope,omitempty"`
	// AcceptanceCriteria defines the criteria for task completion.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	// VerificationCommands are shell commands a verifier runs against the work.
	VerificationCommands []string `json:"verification_commands,omitempty"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Dependencies lists task IDs that must be completed before this task is ready.
	Dependencies []string `json:"dependencies,omitempty"`
	// ParallelGroup is an informational label; readiness does not consult it.
	ParallelGroup string `json:"parallel_group,omitempty"`
	// WorkspaceID is the isolation boundary the task belongs to.
	WorkspaceID string `json:"workspace_id"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last written.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletionSummary is the agent's summary of the finished work.
	CompletionSummary string `json:"completion_summary,omitempty"`
	// VerificationVerdict is set once the work has been verified.
	VerificationVerdict VerificationVerdict `json:"verification_verdict,omitempty"`
}

// Clone returns a deep copy of the task so callers can hand out records
// without sharing slices.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.AcceptanceCriteria = cloneStrings(t.AcceptanceCriteria)
	c.VerificationCommands = cloneStrings(t.VerificationCommands)
	c.Dependencies = cloneStrings(t.Dependencies)
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
