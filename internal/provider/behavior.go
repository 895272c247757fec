// Package provider maps agent provider names to their protocol quirks and
// normalizes each provider's session updates into one canonical shape.
package provider

import "strings"

// Type identifies a provider family.
type Type string

const (
	TypeClaude   Type = "claude"
	TypeOpenCode Type = "opencode"
	TypeCodex    Type = "codex"
	TypeGemini   Type = "gemini"
	TypeCopilot  Type = "copilot"
	TypeKimi     Type = "kimi"
	TypeAuggie   Type = "auggie"
	TypeStandard Type = "standard"
)

// Behavior describes how a provider delivers events.
type Behavior struct {
	Type Type `json:"provider_type"`
	// ImmediateToolInput is true when tool input arrives on the initial
	// tool_call event. Otherwise input may arrive, or change, in later
	// tool_call_update events.
	ImmediateToolInput bool `json:"immediate_tool_input"`
	// Streaming is true when message text arrives as incremental chunks.
	Streaming bool `json:"streaming"`
}

var aliases = map[string]Behavior{
	"claude":          {TypeClaude, true, true},
	"claude-code":     {TypeClaude, true, true},
	"claude-code-acp": {TypeClaude, true, true},
	"opencode":        {TypeOpenCode, false, true},
	"open-code":       {TypeOpenCode, false, true},
	"codex":           {TypeCodex, false, true},
	"codex-acp":       {TypeCodex, false, true},
	"gemini":          {TypeGemini, false, true},
	"gemini-cli":      {TypeGemini, false, true},
	"copilot":         {TypeCopilot, false, true},
	"github-copilot":  {TypeCopilot, false, true},
	"kimi":            {TypeKimi, false, true},
	"auggie":          {TypeAuggie, false, false},
	"augment":         {TypeAuggie, false, false},
}

// BehaviorFor returns the behavior for a provider name, matched
// case-insensitively. Unknown names get the Standard behavior, which assumes
// deferred tool input.
func BehaviorFor(name string) Behavior {
	if b, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return b
	}
	return Behavior{Type: TypeStandard, ImmediateToolInput: false, Streaming: true}
}

// Known reports whether name is in the alias table.
func Known(name string) bool {
	_, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
