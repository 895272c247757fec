package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/conductor/internal/specialist"
)

// Invocation is everything an agent needs to run one step.
type Invocation struct {
	RunID      string
	Workflow   string
	Step       string
	Adapter    string
	Specialist *specialist.Def
	// Config is the step's action map.
	Config map[string]any
	// Payload is the trigger payload, possibly nil.
	Payload map[string]any
	// Prompt is the user-facing instruction built from the action and payload.
	Prompt string
}

// FullPrompt joins the specialist's system prompt and the step prompt for
// agents that take a single message.
func (inv Invocation) FullPrompt() string {
	var sys string
	if inv.Specialist != nil {
		sys = strings.TrimSpace(inv.Specialist.SystemPrompt)
	}
	switch {
	case sys == "":
		return inv.Prompt
	case inv.Prompt == "":
		return sys
	default:
		return sys + "\n\n" + inv.Prompt
	}
}

// ConfigString returns a string value from the step config.
func (inv Invocation) ConfigString(key string) string {
	if v, ok := inv.Config[key].(string); ok {
		return v
	}
	return ""
}

// StepOutcome is an agent's terminal answer for a step.
type StepOutcome struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Caller runs an invocation to completion. Transport errors are returned as
// err; an agent that ran but reported failure returns a failed outcome.
type Caller interface {
	Call(ctx context.Context, inv Invocation) (StepOutcome, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, inv Invocation) (StepOutcome, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, inv Invocation) (StepOutcome, error) {
	return f(ctx, inv)
}

// buildPrompt renders the step instruction. A "prompt" action key is used
// verbatim; remaining action keys and the payload are appended as context.
func buildPrompt(step Step, payload map[string]any) string {
	var b strings.Builder
	if p, ok := step.Action["prompt"].(string); ok && strings.TrimSpace(p) != "" {
		b.WriteString(strings.TrimSpace(p))
	} else {
		fmt.Fprintf(&b, "Carry out workflow step %q.", step.Name)
	}

	keys := make([]string, 0, len(step.Action))
	for k := range step.Action {
		if k != "prompt" && k != "model" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		b.WriteString("\n\nStep configuration:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %v", k, step.Action[k])
		}
	}

	if len(payload) > 0 {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err == nil {
			b.WriteString("\n\nTrigger payload:\n")
			b.Write(data)
		}
	}
	return b.String()
}
