package provider

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/ShayCichocki/conductor/internal/errs"
)

// Normalizer converts one session's raw updates into Updates. It keeps the
// state of every tool call seen so far, so it must be fed the session's
// events in arrival order from a single goroutine.
type Normalizer struct {
	sessionID string
	behavior  Behavior
	tools     map[string]*ToolCall
	now       func() time.Time
}

// NewNormalizer creates a normalizer for a session of the named provider.
func NewNormalizer(sessionID, providerName string) *Normalizer {
	return &Normalizer{
		sessionID: sessionID,
		behavior:  BehaviorFor(providerName),
		tools:     make(map[string]*ToolCall),
		now:       time.Now,
	}
}

// Behavior returns the behavior the normalizer applies.
func (n *Normalizer) Behavior() Behavior {
	return n.behavior
}

// rawUpdate is an ACP session update. Fields not used by a given kind are
// left zero.
type rawUpdate struct {
	Kind       string          `json:"sessionUpdate"`
	Content    json.RawMessage `json:"content"`
	ToolCallID string          `json:"toolCallId"`
	Title      *string         `json:"title"`
	ToolKind   *string         `json:"kind"`
	Status     *string         `json:"status"`
	RawInput   json.RawMessage `json:"rawInput"`
	RawOutput  json.RawMessage `json:"rawOutput"`
	Entries    []PlanItem      `json:"entries"`
}

// Normalize decodes raw, which may be a full session/update notification,
// its params object or the bare update. It returns (nil, nil) for update
// kinds that carry nothing for consumers, such as mode or command changes.
func (n *Normalizer) Normalize(raw []byte) (*Update, error) {
	body, err := unwrap(raw)
	if err != nil {
		return nil, err
	}

	var u rawUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, errs.Protocol("decode session update", err)
	}
	if u.Kind == "" {
		return nil, errs.Protocol("session update has no kind", nil)
	}

	switch u.Kind {
	case "agent_message_chunk":
		return n.message(EventAgentMessage, "assistant", u.Content)
	case "agent_thought_chunk":
		return n.message(EventAgentThought, "assistant", u.Content)
	case "user_message_chunk":
		return n.message(EventUserMessage, "user", u.Content)
	case "tool_call":
		return n.toolCall(EventToolCall, &u)
	case "tool_call_update":
		return n.toolCall(EventToolCallUpdate, &u)
	case "plan":
		return n.update(EventPlanUpdate, func(up *Update) {
			up.Plan = append([]PlanItem{}, u.Entries...)
		}), nil
	default:
		return nil, nil
	}
}

// TurnComplete builds the update emitted when a prompt turn ends.
func (n *Normalizer) TurnComplete(stopReason string) *Update {
	return n.update(EventTurnComplete, func(up *Update) { up.StopReason = stopReason })
}

// Error builds an error update.
func (n *Normalizer) Error(msg string) *Update {
	return n.update(EventError, func(up *Update) { up.Error = msg })
}

func (n *Normalizer) update(t EventType, fill func(*Update)) *Update {
	up := &Update{
		SessionID: n.sessionID,
		Provider:  n.behavior.Type,
		EventType: t,
		Timestamp: n.now().UTC(),
	}
	fill(up)
	return up
}

func (n *Normalizer) message(t EventType, role string, content json.RawMessage) (*Update, error) {
	text, err := contentText(content)
	if err != nil {
		return nil, err
	}
	return n.update(t, func(up *Update) {
		up.Message = &Message{Role: role, Content: text, IsChunk: n.behavior.Streaming}
	}), nil
}

func (n *Normalizer) toolCall(t EventType, u *rawUpdate) (*Update, error) {
	if u.ToolCallID == "" {
		return nil, errs.Protocol("%s has no toolCallId", nil, u.Kind)
	}

	tc, ok := n.tools[u.ToolCallID]
	if !ok {
		tc = &ToolCall{ID: u.ToolCallID, Status: "pending"}
		n.tools[u.ToolCallID] = tc
	}
	if u.Title != nil && *u.Title != "" {
		tc.Name = *u.Title
	}
	if u.ToolKind != nil && *u.ToolKind != "" {
		tc.Kind = *u.ToolKind
	}
	if u.Status != nil && *u.Status != "" {
		tc.Status = *u.Status
	}
	n.mergeInput(tc, u.RawInput)

	if out := outputText(u.RawOutput, u.Content); out != "" {
		tc.Output = out
	}

	snapshot := tc.clone()
	return n.update(t, func(up *Update) { up.ToolCall = snapshot }), nil
}

// mergeInput applies the provider's input rule. Immediate providers keep the
// first non-empty input. Deferred providers take every later non-empty input.
// Empty input never overwrites non-empty input.
func (n *Normalizer) mergeInput(tc *ToolCall, input json.RawMessage) {
	if isNull(input) {
		return
	}
	if !nonEmpty(input) {
		if tc.Input == nil {
			tc.Input = append(json.RawMessage(nil), input...)
		}
		return
	}
	if tc.InputFinalized && n.behavior.ImmediateToolInput {
		return
	}
	tc.Input = append(json.RawMessage(nil), input...)
	tc.InputFinalized = true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// nonEmpty reports whether input counts as real tool input: an object with at
// least one key, or any non-null value that is not an object.
func nonEmpty(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] != '{' {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false
	}
	return len(obj) > 0
}

// unwrap strips a JSON-RPC envelope and/or params wrapper, returning the
// bare update object.
func unwrap(raw []byte) ([]byte, error) {
	var probe struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		Update json.RawMessage `json:"update"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errs.Protocol("decode session update", err)
	}
	if probe.Method != "" {
		if probe.Method != "session/update" {
			return nil, errs.Protocol("unexpected method %q", nil, probe.Method)
		}
		if isNull(probe.Params) {
			return nil, errs.Protocol("session/update without params", nil)
		}
		return unwrap(probe.Params)
	}
	if !isNull(probe.Update) {
		return probe.Update, nil
	}
	return raw, nil
}

type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Content json.RawMessage `json:"content"`
}

// contentText extracts the text of a content block or a list of blocks.
// Non-text blocks contribute nothing.
func contentText(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '[':
		var blocks []contentBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return "", errs.Protocol("decode content blocks", err)
		}
		var sb strings.Builder
		for _, b := range blocks {
			sb.WriteString(blockText(b))
		}
		return sb.String(), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", errs.Protocol("decode content", err)
		}
		return s, nil
	default:
		var b contentBlock
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return "", errs.Protocol("decode content block", err)
		}
		return blockText(b), nil
	}
}

// blockText handles plain text blocks and tool-call content wrappers of the
// form {"type":"content","content":{"type":"text",...}}.
func blockText(b contentBlock) string {
	switch b.Type {
	case "text":
		return b.Text
	case "content":
		text, err := contentText(b.Content)
		if err != nil {
			return ""
		}
		return text
	default:
		return ""
	}
}

// outputText prefers rawOutput, falling back to text found in content.
func outputText(rawOutput, content json.RawMessage) string {
	if !isNull(rawOutput) {
		var s string
		if err := json.Unmarshal(rawOutput, &s); err == nil {
			return s
		}
		return string(bytes.TrimSpace(rawOutput))
	}
	text, err := contentText(content)
	if err != nil {
		return ""
	}
	return text
}
