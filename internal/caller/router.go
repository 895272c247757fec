package caller

import (
	"context"
	"strings"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/workflow"
)

// IsAPIAdapter reports whether a step adapter names the Messages API rather
// than an agent process.
func IsAPIAdapter(adapter string) bool {
	switch strings.ToLower(strings.TrimSpace(adapter)) {
	case "api", "anthropic", "bedrock":
		return true
	default:
		return false
	}
}

// Router sends API adapters to one caller and everything else to another.
type Router struct {
	API     workflow.Caller
	Process workflow.Caller
}

// Call implements workflow.Caller.
func (r *Router) Call(ctx context.Context, inv workflow.Invocation) (workflow.StepOutcome, error) {
	target := r.Process
	kind := "process"
	if IsAPIAdapter(inv.Adapter) {
		target = r.API
		kind = "api"
	}
	if target == nil {
		return workflow.StepOutcome{}, errs.Validation("route step", "no %s caller configured for adapter %q", kind, inv.Adapter)
	}
	return target.Call(ctx, inv)
}
