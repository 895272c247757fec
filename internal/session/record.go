// Package session manages agent sessions: the registry of session metadata
// and the agent subprocesses driven over ACP.
package session

import (
	"time"

	"github.com/ShayCichocki/conductor/internal/errs"
)

// State is the lifecycle state of a session.
type State string

const (
	StateCreated   State = "created"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a session may move from s to next.
// Created may become active or end directly; active may only end.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateCreated:
		return next == StateActive || next.Terminal()
	case StateActive:
		return next.Terminal()
	default:
		return false
	}
}

// Options holds the optional attributes of a session.
type Options struct {
	ModeID string
	Model  string
	Role   string
	Name   string
}

// Record is the metadata of one session.
type Record struct {
	SessionID   string    `json:"session_id"`
	Cwd         string    `json:"cwd"`
	WorkspaceID string    `json:"workspace_id"`
	Provider    string    `json:"provider"`
	ModeID      string    `json:"mode_id,omitempty"`
	Model       string    `json:"model,omitempty"`
	Role        string    `json:"role,omitempty"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	State       State     `json:"state"`
	// AgentSessionID is the id the agent process assigned in session/new.
	AgentSessionID string `json:"agent_session_id,omitempty"`
	// PID is the agent process id while one is attached.
	PID int `json:"pid,omitempty"`
}

func (r *Record) transition(next State) error {
	if !r.State.CanTransition(next) {
		return errs.Validation("session transition", "session %s cannot move from %s to %s", r.SessionID, r.State, next)
	}
	r.State = next
	return nil
}
