// Package workflow parses YAML workflow definitions and runs their steps in
// order against specialist agents.
package workflow

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/conductor/internal/errs"
)

// Definition is a parsed workflow file.
type Definition struct {
	Name        string  `yaml:"name" json:"name"`
	Version     string  `yaml:"version" json:"version"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Trigger     Trigger `yaml:"trigger" json:"trigger"`
	Steps       []Step  `yaml:"steps" json:"steps"`
}

// Trigger describes what starts a workflow and the payload it must carry.
type Trigger struct {
	Type string `yaml:"type" json:"type"`
	// Required lists payload keys that must be present.
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`
	// Schema holds any other trigger keys verbatim.
	Schema map[string]any `yaml:",inline" json:"schema,omitempty"`
}

// Step is one specialist invocation.
type Step struct {
	Name       string         `yaml:"name" json:"name"`
	Specialist string         `yaml:"specialist" json:"specialist"`
	Adapter    string         `yaml:"adapter" json:"adapter"`
	Action     map[string]any `yaml:"action,omitempty" json:"action,omitempty"`
	OnFailure  FailurePolicy  `yaml:"on_failure,omitempty" json:"on_failure"`
	Timeout    Duration       `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// PolicyKind is what happens after a step fails.
type PolicyKind string

const (
	PolicyAbort    PolicyKind = "abort"
	PolicyContinue PolicyKind = "continue"
	PolicyRetry    PolicyKind = "retry"
)

// FailurePolicy is a step's on_failure setting. The zero value aborts.
type FailurePolicy struct {
	Kind PolicyKind
	// Retries is the number of extra attempts for PolicyRetry.
	Retries int
}

// Abort is the default policy.
func Abort() FailurePolicy { return FailurePolicy{Kind: PolicyAbort} }

// Continue records a failure and moves on.
func Continue() FailurePolicy { return FailurePolicy{Kind: PolicyContinue} }

// Retry re-invokes a failing step up to n more times.
func Retry(n int) FailurePolicy { return FailurePolicy{Kind: PolicyRetry, Retries: n} }

// Attempts is the maximum number of invocations of a step.
func (p FailurePolicy) Attempts() int {
	if p.Kind == PolicyRetry {
		return p.Retries + 1
	}
	return 1
}

// Halts reports whether an exhausted failure stops the run.
func (p FailurePolicy) Halts() bool {
	return p.Kind != PolicyContinue
}

func (p FailurePolicy) String() string {
	switch p.Kind {
	case PolicyContinue:
		return "continue"
	case PolicyRetry:
		return fmt.Sprintf("retry-%d", p.Retries)
	default:
		return "abort"
	}
}

// ParsePolicy accepts abort, continue, retry-N, retry:N and bare retry (one
// extra attempt). Empty means abort.
func ParsePolicy(s string) (FailurePolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "abort":
		return Abort(), nil
	case "continue":
		return Continue(), nil
	case "retry":
		return Retry(1), nil
	}

	for _, sep := range []string{"-", ":"} {
		if rest, ok := strings.CutPrefix(s, "retry"+sep); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil || n < 0 {
				return FailurePolicy{}, fmt.Errorf("invalid retry count %q", rest)
			}
			return Retry(n), nil
		}
	}
	return FailurePolicy{}, fmt.Errorf("unknown failure policy %q", s)
}

// UnmarshalYAML accepts the string forms and a {retry: N} mapping.
func (p *FailurePolicy) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := ParsePolicy(node.Value)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	case yaml.MappingNode:
		var m map[string]int
		if err := node.Decode(&m); err != nil {
			return fmt.Errorf("decode failure policy: %w", err)
		}
		n, ok := m["retry"]
		if !ok || len(m) != 1 {
			return fmt.Errorf("failure policy mapping must have exactly one retry key")
		}
		if n < 0 {
			return fmt.Errorf("invalid retry count %d", n)
		}
		*p = Retry(n)
		return nil
	default:
		return fmt.Errorf("failure policy must be a string or mapping")
	}
}

// MarshalYAML writes the string form.
func (p FailurePolicy) MarshalYAML() (any, error) {
	return p.String(), nil
}

// MarshalText lets the policy render in JSON output.
func (p FailurePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses strings like "90s" or "5m".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("timeout must be a duration string")
	}
	if node.Value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parse timeout: %w", err)
	}
	if parsed < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Parse decodes and validates a workflow definition. Every failure is a
// validation error.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errs.Validation("parse workflow", "%v", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and parses a workflow file.
func LoadFile(path string) (*Definition, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.Validation("load workflow", "path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Validation("load workflow", "read %s: %v", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", path, err)
	}
	return def, nil
}

// Validate checks the structural rules of a definition.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errs.Validation("validate workflow", "name is required")
	}
	if len(d.Steps) == 0 {
		return errs.Validation("validate workflow", "workflow %s has no steps", d.Name)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		if strings.TrimSpace(step.Name) == "" {
			return errs.Validation("validate workflow", "step %d has no name", i+1)
		}
		if seen[step.Name] {
			return errs.Validation("validate workflow", "duplicate step name %q", step.Name)
		}
		seen[step.Name] = true
		if strings.TrimSpace(step.Specialist) == "" {
			return errs.Validation("validate workflow", "step %q has no specialist", step.Name)
		}
		if step.OnFailure.Kind == "" {
			step.OnFailure = Abort()
		}
	}
	return nil
}

// CheckPayload verifies the trigger's required keys are present.
func (t Trigger) CheckPayload(payload map[string]any) error {
	var missing []string
	for _, key := range t.Required {
		if _, ok := payload[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errs.Validation("check trigger payload", "missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
