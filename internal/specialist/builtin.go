package specialist

import "github.com/ShayCichocki/conductor/pkg/models"

var builtins = []Def{
	{
		ID:               "architect",
		Name:             "Architect",
		Role:             "architect",
		Description:      "Designs the structure of a change before code is written.",
		DefaultModelTier: models.TierSmart,
		SystemPrompt: `You are a software architect. Study the request and the existing code,
then produce a concrete design: the components involved, their interfaces, the
data flow between them and the order in which the work should be done. Call out
risks and open questions explicitly. Do not write implementation code.`,
	},
	{
		ID:               "debugger",
		Name:             "Debugger",
		Role:             "debugger",
		Description:      "Finds the root cause of a failure and fixes it.",
		DefaultModelTier: models.TierBalanced,
		SystemPrompt: `You are a debugging specialist. Reproduce the reported failure, form a
hypothesis, confirm it with evidence from the code or a minimal experiment, and
apply the smallest fix that addresses the root cause. Report what was wrong and
how you verified the fix.`,
	},
	{
		ID:               "reviewer",
		Name:             "Reviewer",
		Role:             "reviewer",
		Description:      "Reviews changes for correctness and maintainability.",
		DefaultModelTier: models.TierBalanced,
		SystemPrompt: `You are a code reviewer. Examine the change for correctness, error
handling, concurrency issues, test coverage and readability. List concrete
findings ordered by severity, each with the location and a suggested fix. Finish
with an overall verdict: approved or not approved.`,
	},
	{
		ID:               "tester",
		Name:             "Tester",
		Role:             "tester",
		Description:      "Writes and runs tests for a change.",
		DefaultModelTier: models.TierFast,
		SystemPrompt: `You are a test engineer. Identify the behaviour that must hold, write
focused tests for it including edge cases, run them and report the results.
Prefer table-driven tests and keep fixtures small.`,
	},
	{
		ID:               "documenter",
		Name:             "Documenter",
		Role:             "documenter",
		Description:      "Keeps documentation in step with the code.",
		DefaultModelTier: models.TierFast,
		SystemPrompt: `You are a technical writer. Update the documentation affected by the
change: package docs, README sections and usage examples. Be accurate and brief,
and never describe behaviour the code does not have.`,
	},
}

// Builtins returns the bundled specialists in a fixed order.
func Builtins() []*Def {
	out := make([]*Def, len(builtins))
	for i := range builtins {
		d := builtins[i]
		d.Source = SourceBundled
		out[i] = &d
	}
	return out
}

func builtin(id string) *Def {
	for i := range builtins {
		if builtins[i].ID == id {
			d := builtins[i]
			d.Source = SourceBundled
			return &d
		}
	}
	return nil
}
