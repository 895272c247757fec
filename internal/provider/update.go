package provider

import (
	"encoding/json"
	"time"
)

// EventType is the kind of a normalized update.
type EventType string

const (
	EventToolCall       EventType = "tool_call"
	EventToolCallUpdate EventType = "tool_call_update"
	EventAgentMessage   EventType = "agent_message"
	EventAgentThought   EventType = "agent_thought"
	EventUserMessage    EventType = "user_message"
	EventPlanUpdate     EventType = "plan_update"
	EventTurnComplete   EventType = "turn_complete"
	EventError          EventType = "error"
)

// ToolCall is the merged view of one tool invocation.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Status string          `json:"status,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	// InputFinalized becomes true once non-empty input has been seen and never
	// reverts.
	InputFinalized bool `json:"input_finalized"`
}

func (tc *ToolCall) clone() *ToolCall {
	c := *tc
	if tc.Input != nil {
		c.Input = append(json.RawMessage(nil), tc.Input...)
	}
	return &c
}

// Message is a chunk or whole message of text.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	IsChunk bool   `json:"is_chunk"`
}

// PlanItem is one entry of an agent's plan.
type PlanItem struct {
	Content  string `json:"content"`
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Update is a provider event in canonical form.
type Update struct {
	SessionID  string     `json:"session_id"`
	Provider   Type       `json:"provider"`
	EventType  EventType  `json:"event_type"`
	ToolCall   *ToolCall  `json:"tool_call,omitempty"`
	Message    *Message   `json:"message,omitempty"`
	Plan       []PlanItem `json:"plan,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
