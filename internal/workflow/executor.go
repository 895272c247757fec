package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/conductor/internal/specialist"
	"github.com/ShayCichocki/conductor/internal/trace"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	StepName   string        `json:"step_name"`
	Specialist string        `json:"specialist"`
	Success    bool          `json:"success"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`

	// Err is the last failure cause, kept for errors.Is checks.
	Err error `json:"-"`
}

// Result is the outcome of a workflow run.
type Result struct {
	RunID     string        `json:"run_id"`
	Workflow  string        `json:"workflow"`
	Success   bool          `json:"success"`
	Aborted   bool          `json:"aborted"`
	Cancelled bool          `json:"cancelled"`
	Steps     []StepResult  `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// FailedSteps returns the names of steps that failed, in run order.
func (r *Result) FailedSteps() []string {
	var names []string
	for _, s := range r.Steps {
		if !s.Success {
			names = append(names, s.StepName)
		}
	}
	return names
}

// Failures returns the failed step results, in run order.
func (r *Result) Failures() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

// RunOptions are the per-run inputs besides the definition.
type RunOptions struct {
	Payload map[string]any
	// SpecialistDir, when set, is loaded ahead of the executor's registry.
	SpecialistDir string
}

// Executor runs workflow definitions.
type Executor struct {
	caller      Caller
	registry    *specialist.Registry
	recorder    trace.Recorder
	logger      *slog.Logger
	tracer      oteltrace.Tracer
	stepTimeout time.Duration
	now         func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithRegistry sets the specialist registry used when a run has no override
// directory.
func WithRegistry(r *specialist.Registry) Option {
	return func(e *Executor) { e.registry = r }
}

// WithRecorder sets the trace sink for run and step events.
func WithRecorder(r trace.Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStepTimeout bounds steps that set no timeout of their own.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stepTimeout = d }
}

// NewExecutor creates an executor invoking steps through caller.
func NewExecutor(caller Caller, opts ...Option) *Executor {
	e := &Executor{
		caller:   caller,
		recorder: trace.Nop{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("conductor/workflow"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = specialist.NewRegistry(e.logger)
	}
	e.logger = e.logger.With("component", "workflow")
	return e
}

// RunFile loads a workflow file and runs it.
func (e *Executor) RunFile(ctx context.Context, path string, opts RunOptions) (*Result, error) {
	def, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, def, opts)
}

// Run executes def's steps in order. The returned error is reserved for
// problems that prevent any step from running; step failures are reported in
// the Result.
func (e *Executor) Run(ctx context.Context, def *Definition, opts RunOptions) (*Result, error) {
	if def == nil {
		return nil, fmt.Errorf("run workflow: definition is nil")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := def.Trigger.CheckPayload(opts.Payload); err != nil {
		return nil, fmt.Errorf("run workflow %s: %w", def.Name, err)
	}

	registry := e.resolveRegistry(opts.SpecialistDir)
	res := &Result{
		RunID:     uuid.NewString(),
		Workflow:  def.Name,
		StartedAt: e.now().UTC(),
	}
	logger := e.logger.With("workflow", def.Name, "run_id", res.RunID)

	ctx, span := e.tracer.Start(ctx, "workflow.run", oteltrace.WithAttributes(
		attribute.String("workflow.name", def.Name),
		attribute.String("workflow.run_id", res.RunID),
		attribute.Int("workflow.steps", len(def.Steps)),
	))
	defer span.End()

	e.record(ctx, res, "", trace.KindWorkflowStarted, map[string]any{
		"version": def.Version,
		"steps":   len(def.Steps),
		"payload": opts.Payload,
	})
	logger.Info("workflow started", "steps", len(def.Steps))

	for _, step := range def.Steps {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		sr := e.runStep(ctx, registry, res, def, step, opts.Payload, logger)
		res.Steps = append(res.Steps, sr)
		e.record(ctx, res, step.Name, trace.KindStepOutcome, sr)

		if sr.Success {
			continue
		}
		if isCancellation(ctx, sr.Err) {
			res.Cancelled = true
			break
		}
		if step.OnFailure.Halts() {
			logger.Warn("aborting workflow", "step", step.Name, "policy", step.OnFailure.String())
			res.Aborted = true
			break
		}
	}

	res.Success = !res.Aborted && !res.Cancelled && len(res.FailedSteps()) == 0
	res.Duration = e.now().Sub(res.StartedAt)

	if !res.Success {
		span.SetStatus(codes.Error, "workflow failed")
	}
	span.SetAttributes(
		attribute.Bool("workflow.success", res.Success),
		attribute.Bool("workflow.aborted", res.Aborted),
		attribute.Bool("workflow.cancelled", res.Cancelled),
	)

	e.record(context.WithoutCancel(ctx), res, "", trace.KindWorkflowFinished, map[string]any{
		"success":      res.Success,
		"aborted":      res.Aborted,
		"cancelled":    res.Cancelled,
		"failed_steps": res.FailedSteps(),
		"duration_ms":  res.Duration.Milliseconds(),
	})
	logger.Info("workflow finished", "success", res.Success, "failed_steps", res.FailedSteps())
	return res, nil
}

func (e *Executor) resolveRegistry(dir string) *specialist.Registry {
	if dir == "" {
		return e.registry
	}
	reg := specialist.NewRegistry(e.logger)
	for _, d := range e.registry.Dirs() {
		if _, err := reg.LoadDir(d); err != nil {
			e.logger.Warn("reload specialist directory", "dir", d, "error", err)
		}
	}
	if _, err := reg.LoadDir(dir); err != nil {
		e.logger.Warn("specialist override directory unreadable, using defaults", "dir", dir, "error", err)
		return e.registry
	}
	return reg
}

func (e *Executor) runStep(ctx context.Context, registry *specialist.Registry, res *Result, def *Definition, step Step, payload map[string]any, logger *slog.Logger) StepResult {
	started := e.now()
	sr := StepResult{StepName: step.Name, Specialist: step.Specialist}

	ctx, span := e.tracer.Start(ctx, "workflow.step", oteltrace.WithAttributes(
		attribute.String("workflow.name", def.Name),
		attribute.String("step.name", step.Name),
		attribute.String("step.specialist", step.Specialist),
		attribute.String("step.adapter", step.Adapter),
		attribute.String("step.on_failure", step.OnFailure.String()),
	))
	defer span.End()

	spec, err := registry.Resolve(step.Specialist)
	if err != nil {
		sr.Err = err
		sr.Error = err.Error()
		sr.Duration = e.now().Sub(started)
		span.RecordError(err)
		span.SetStatus(codes.Error, "specialist not found")
		logger.Warn("step failed", "step", step.Name, "error", err)
		return sr
	}

	inv := Invocation{
		RunID:      res.RunID,
		Workflow:   def.Name,
		Step:       step.Name,
		Adapter:    step.Adapter,
		Specialist: spec,
		Config:     step.Action,
		Payload:    payload,
		Prompt:     buildPrompt(step, payload),
	}

	attempts := step.OnFailure.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			sr.Err = ctx.Err()
			sr.Error = sr.Err.Error()
			break
		}
		sr.Attempts = attempt

		outcome, err := e.invoke(ctx, step, inv)
		switch {
		case err != nil:
			sr.Success, sr.Output, sr.Err = false, "", err
		case !outcome.Success:
			msg := outcome.Error
			if msg == "" {
				msg = "agent reported failure"
			}
			sr.Success, sr.Output, sr.Err = false, outcome.Output, errors.New(msg)
		default:
			sr.Success, sr.Output, sr.Err = true, outcome.Output, nil
		}

		if sr.Success {
			sr.Error = ""
			break
		}
		sr.Error = sr.Err.Error()
		logger.Warn("step attempt failed", "step", step.Name, "attempt", attempt, "of", attempts, "error", sr.Err)
		span.AddEvent("attempt failed", oteltrace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error", sr.Error),
		))
	}

	sr.Duration = e.now().Sub(started)
	span.SetAttributes(attribute.Int("step.attempts", sr.Attempts), attribute.Bool("step.success", sr.Success))
	if !sr.Success {
		span.RecordError(sr.Err)
		span.SetStatus(codes.Error, sr.Error)
	} else {
		logger.Info("step succeeded", "step", step.Name, "attempts", sr.Attempts, "duration", sr.Duration)
	}
	return sr
}

func (e *Executor) invoke(ctx context.Context, step Step, inv Invocation) (StepOutcome, error) {
	timeout := time.Duration(step.Timeout)
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	outcome, err := e.caller.Call(ctx, inv)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("call %s: %w", inv.Specialist.ID, err)
	}
	return outcome, nil
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ctx.Err()))
}

// record forwards an event to the recorder. Failures are logged only.
func (e *Executor) record(ctx context.Context, res *Result, step string, kind trace.Kind, payload any) {
	ev, err := trace.NewEvent(kind, payload)
	if err != nil {
		e.logger.Warn("encode trace event", "kind", kind, "error", err)
		return
	}
	ev.RunID = res.RunID
	ev.Workflow = res.Workflow
	ev.Step = step
	if err := trace.Safe(ctx, e.recorder, ev); err != nil {
		e.logger.Warn("trace recorder failed", "kind", kind, "error", err)
	}
}
