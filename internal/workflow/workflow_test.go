package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/trace"
)

// scriptedCaller fails the steps named in fail and records every call.
type scriptedCaller struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []Invocation
}

func (c *scriptedCaller) Call(_ context.Context, inv Invocation) (StepOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, inv)
	if c.fail[inv.Step] {
		return StepOutcome{Success: false, Error: inv.Step + " broke"}, nil
	}
	return StepOutcome{Success: true, Output: inv.Step + " done"}, nil
}

func (c *scriptedCaller) steps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, inv := range c.calls {
		out = append(out, inv.Step)
	}
	return out
}

func threeSteps(policy FailurePolicy) *Definition {
	return &Definition{
		Name: "review",
		Steps: []Step{
			{Name: "step1", Specialist: "architect"},
			{Name: "step2", Specialist: "reviewer", OnFailure: policy},
			{Name: "step3", Specialist: "tester"},
		},
	}
}

func TestAbortStopsRemainingSteps(t *testing.T) {
	caller := &scriptedCaller{fail: map[string]bool{"step2": true}}
	res, err := NewExecutor(caller).Run(context.Background(), threeSteps(Abort()), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"step1", "step2"}, caller.steps())
	assert.False(t, res.Success)
	assert.True(t, res.Aborted)
	assert.Equal(t, []string{"step2"}, res.FailedSteps())
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "step2 broke", res.Steps[1].Error)
}

func TestContinueRunsRemainingSteps(t *testing.T) {
	caller := &scriptedCaller{fail: map[string]bool{"step2": true}}
	res, err := NewExecutor(caller).Run(context.Background(), threeSteps(Continue()), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"step1", "step2", "step3"}, caller.steps())
	assert.False(t, res.Success)
	assert.False(t, res.Aborted)
	require.Len(t, res.Steps, 3)
	assert.False(t, res.Steps[1].Success)
	assert.True(t, res.Steps[2].Success)
	assert.Equal(t, "step3 done", res.Steps[2].Output)
	assert.Equal(t, []string{"step2"}, res.FailedSteps())
}

func TestRetryInvokesNPlusOneTimes(t *testing.T) {
	caller := &scriptedCaller{fail: map[string]bool{"step2": true}}
	res, err := NewExecutor(caller).Run(context.Background(), threeSteps(Retry(2)), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"step1", "step2", "step2", "step2"}, caller.steps())
	assert.True(t, res.Aborted)
	assert.Equal(t, 3, res.Steps[1].Attempts)
}

func TestRetryStopsOnSuccess(t *testing.T) {
	var calls int
	caller := CallerFunc(func(_ context.Context, inv Invocation) (StepOutcome, error) {
		calls++
		if calls < 2 {
			return StepOutcome{}, errors.New("transient")
		}
		return StepOutcome{Success: true, Output: "ok"}, nil
	})
	def := &Definition{Name: "wf", Steps: []Step{{Name: "only", Specialist: "debugger", OnFailure: Retry(5)}}}

	res, err := NewExecutor(caller).Run(context.Background(), def, RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, res.Steps[0].Attempts)
	assert.Empty(t, res.Steps[0].Error)
}

func TestUnresolvedSpecialistNeverCallsAgent(t *testing.T) {
	caller := &scriptedCaller{}
	def := &Definition{Name: "wf", Steps: []Step{
		{Name: "ghost", Specialist: "no-such-role", OnFailure: Retry(3)},
		{Name: "after", Specialist: "tester"},
	}}

	res, err := NewExecutor(caller).Run(context.Background(), def, RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, caller.steps())
	assert.False(t, res.Success)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 0, res.Steps[0].Attempts)
	assert.True(t, errs.IsNotFound(res.Steps[0].Err))
}

func TestAllStepsSucceed(t *testing.T) {
	caller := &scriptedCaller{}
	res, err := NewExecutor(caller).Run(context.Background(), threeSteps(Abort()), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.FailedSteps())
	assert.NotEmpty(t, res.RunID)
}

func TestCancelledContextStopsInvocations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var steps []string
	caller := CallerFunc(func(_ context.Context, inv Invocation) (StepOutcome, error) {
		steps = append(steps, inv.Step)
		if inv.Step == "step1" {
			cancel()
		}
		return StepOutcome{Success: true}, nil
	})

	res, err := NewExecutor(caller).Run(ctx, threeSteps(Continue()), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"step1"}, steps)
	assert.True(t, res.Cancelled)
	assert.False(t, res.Success)
}

func TestStepTimeoutBoundsCall(t *testing.T) {
	caller := CallerFunc(func(ctx context.Context, inv Invocation) (StepOutcome, error) {
		<-ctx.Done()
		return StepOutcome{}, ctx.Err()
	})
	def := &Definition{Name: "wf", Steps: []Step{{Name: "slow", Specialist: "tester", Timeout: Duration(20 * time.Millisecond)}}}

	res, err := NewExecutor(caller).Run(context.Background(), def, RunOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Cancelled)
	assert.ErrorIs(t, res.Steps[0].Err, context.DeadlineExceeded)
}

func TestMissingTriggerKeyRunsNothing(t *testing.T) {
	caller := &scriptedCaller{}
	def := threeSteps(Abort())
	def.Trigger = Trigger{Type: "manual", Required: []string{"pr_url"}}

	res, err := NewExecutor(caller).Run(context.Background(), def, RunOptions{Payload: map[string]any{"other": 1}})
	assert.Nil(t, res)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Empty(t, caller.steps())
}

func TestInvocationCarriesPromptAndPayload(t *testing.T) {
	caller := &scriptedCaller{}
	def := &Definition{Name: "wf", Steps: []Step{{
		Name: "review", Specialist: "reviewer", Adapter: "claude",
		Action: map[string]any{"prompt": "Review the change.", "focus": "security"},
	}}}

	_, err := NewExecutor(caller).Run(context.Background(), def, RunOptions{Payload: map[string]any{"pr": 42}})
	require.NoError(t, err)
	require.Len(t, caller.calls, 1)

	inv := caller.calls[0]
	assert.Equal(t, "claude", inv.Adapter)
	assert.Equal(t, "reviewer", inv.Specialist.ID)
	assert.Contains(t, inv.Prompt, "Review the change.")
	assert.Contains(t, inv.Prompt, "- focus: security")
	assert.Contains(t, inv.Prompt, `"pr": 42`)
	assert.Contains(t, inv.FullPrompt(), inv.Specialist.SystemPrompt)
}

func TestRecorderFailureDoesNotChangeResult(t *testing.T) {
	caller := &scriptedCaller{}
	var kinds []trace.Kind
	rec := trace.Multi{
		trace.RecorderFunc(func(_ context.Context, ev trace.Event) error {
			kinds = append(kinds, ev.Kind)
			return nil
		}),
		trace.RecorderFunc(func(context.Context, trace.Event) error { return errors.New("disk full") }),
		trace.RecorderFunc(func(context.Context, trace.Event) error { panic("boom") }),
	}

	res, err := NewExecutor(caller, WithRecorder(rec)).Run(context.Background(), threeSteps(Abort()), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []trace.Kind{
		trace.KindWorkflowStarted,
		trace.KindStepOutcome, trace.KindStepOutcome, trace.KindStepOutcome,
		trace.KindWorkflowFinished,
	}, kinds)
}

func TestSpecialistDirOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auditor.yaml"), []byte("id: auditor\nsystem_prompt: Audit everything.\n"), 0o644))

	caller := &scriptedCaller{}
	def := &Definition{Name: "wf", Steps: []Step{{Name: "audit", Specialist: "auditor"}}}
	res, err := NewExecutor(caller).Run(context.Background(), def, RunOptions{SpecialistDir: dir})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Audit everything.", caller.calls[0].Specialist.SystemPrompt)

	// An unreadable override falls back to builtins.
	caller = &scriptedCaller{}
	res, err = NewExecutor(caller).Run(context.Background(), threeSteps(Abort()), RunOptions{SpecialistDir: filepath.Join(dir, "missing")})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]FailurePolicy{
		"":         Abort(),
		"abort":    Abort(),
		"continue": Continue(),
		"retry":    Retry(1),
		"retry-3":  Retry(3),
		"retry:2":  Retry(2),
		"Retry-0":  Retry(0),
	}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"skip", "retry-x", "retry--1"} {
		_, err := ParsePolicy(bad)
		assert.Error(t, err, bad)
	}
}

const sampleWorkflow = `
name: pr-review
version: "1"
description: Review a pull request
trigger:
  type: webhook
  required: [pr_url]
  source: github
steps:
  - name: plan
    specialist: architect
    adapter: claude
    action:
      prompt: Plan the review.
  - name: review
    specialist: reviewer
    adapter: codex
    on_failure: retry-2
    timeout: 90s
  - name: docs
    specialist: documenter
    on_failure:
      retry: 1
  - name: test
    specialist: tester
    on_failure: continue
`

func TestParseWorkflow(t *testing.T) {
	def, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)

	assert.Equal(t, "pr-review", def.Name)
	assert.Equal(t, "webhook", def.Trigger.Type)
	assert.Equal(t, []string{"pr_url"}, def.Trigger.Required)
	assert.Equal(t, "github", def.Trigger.Schema["source"])
	require.Len(t, def.Steps, 4)
	assert.Equal(t, Abort(), def.Steps[0].OnFailure)
	assert.Equal(t, "Plan the review.", def.Steps[0].Action["prompt"])
	assert.Equal(t, Retry(2), def.Steps[1].OnFailure)
	assert.Equal(t, Duration(90*time.Second), def.Steps[1].Timeout)
	assert.Equal(t, Retry(1), def.Steps[2].OnFailure)
	assert.Equal(t, Continue(), def.Steps[3].OnFailure)
}

func TestParseRejectsInvalidWorkflows(t *testing.T) {
	cases := map[string]string{
		"not yaml":         "name: [unclosed",
		"no name":          "steps:\n  - name: a\n    specialist: tester\n",
		"no steps":         "name: empty\n",
		"no specialist":    "name: x\nsteps:\n  - name: a\n",
		"duplicate step":   "name: x\nsteps:\n  - {name: a, specialist: tester}\n  - {name: a, specialist: tester}\n",
		"bad policy":       "name: x\nsteps:\n  - {name: a, specialist: tester, on_failure: sometimes}\n",
		"bad timeout":      "name: x\nsteps:\n  - {name: a, specialist: tester, timeout: soon}\n",
		"bad policy shape": "name: x\nsteps:\n  - {name: a, specialist: tester, on_failure: [retry]}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindValidation))
		})
	}
}

func TestRunFileParseErrorRunsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\nsteps: nope\n"), 0o644))

	caller := &scriptedCaller{}
	res, err := NewExecutor(caller).RunFile(context.Background(), path, RunOptions{})
	assert.Nil(t, res)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Empty(t, caller.steps())

	_, err = LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errs.Is(err, errs.KindValidation))
}
