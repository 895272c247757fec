// Package verify runs a task's verification commands against the workspace.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// DefaultTimeout bounds a single verification command.
const DefaultTimeout = 60 * time.Second

// Runner executes shell commands. It exists so tests can script outcomes.
type Runner interface {
	// RunShell executes command through "sh -c" in workDir and returns the
	// combined output.
	RunShell(ctx context.Context, workDir, command string) ([]byte, error)
}

// ShellRunner implements Runner using os/exec.
type ShellRunner struct{}

// RunShell executes command through "sh -c".
func (ShellRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

var _ Runner = ShellRunner{}

// CommandResult is the outcome of one verification command.
type CommandResult struct {
	Command  string        `json:"cmd"`
	Passed   bool          `json:"passed"`
	Output   string        `json:"output,omitempty"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of verifying one task.
type Report struct {
	TaskID  string          `json:"task_id"`
	Passed  bool            `json:"passed"`
	Results []CommandResult `json:"results"`
}

// Verdict maps the report onto a task verdict.
func (r *Report) Verdict() models.VerificationVerdict {
	if r.Passed {
		return models.VerdictApproved
	}
	return models.VerdictNotApproved
}

// Failed returns the commands that did not pass.
func (r *Report) Failed() []CommandResult {
	var out []CommandResult
	for _, c := range r.Results {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Verifier runs verification commands in a work directory.
type Verifier struct {
	workDir string
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRunner replaces the shell runner.
func WithRunner(r Runner) Option {
	return func(v *Verifier) { v.runner = r }
}

// WithTimeout bounds each command.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithLogger sets the verifier logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates a verifier running commands in workDir.
func New(workDir string, opts ...Option) *Verifier {
	v := &Verifier{
		workDir: workDir,
		runner:  ShellRunner{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "verify")
	return v
}

// Verify runs every verification command of task in order. All commands run
// even after a failure so the report is complete. A task without commands
// passes. Only context cancellation is returned as an error.
func (v *Verifier) Verify(ctx context.Context, task *models.Task) (*Report, error) {
	report := &Report{TaskID: task.ID, Passed: true}
	for _, command := range task.VerificationCommands {
		if strings.TrimSpace(command) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("verify task %s: %w", task.ID, err)
		}
		res := v.run(ctx, command)
		if !res.Passed {
			report.Passed = false
		}
		v.logger.Debug("verification command finished", "task_id", task.ID, "cmd", command, "passed", res.Passed, "exit_code", res.ExitCode)
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (v *Verifier) run(ctx context.Context, command string) CommandResult {
	res := CommandResult{Command: command}

	cmdCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	output, err := v.runner.RunShell(cmdCtx, v.workDir, command)
	res.Duration = time.Since(start)
	res.Output = string(output)

	if err != nil {
		res.ExitCode = exitCode(err)
		if res.ExitCode == -1 {
			res.Error = err.Error()
		}
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("timed out after %s", v.timeout)
		}
		return res
	}
	res.Passed = true
	return res
}

// exitCode extracts the process exit status, or -1 when the command did not
// run at all.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}
