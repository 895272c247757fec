// Package trace records what conductor did: normalized session updates and
// workflow progress. Recording is best effort; callers log and drop errors.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of a trace event.
type Kind string

const (
	KindSessionUpdate    Kind = "session_update"
	KindWorkflowStarted  Kind = "workflow_started"
	KindStepOutcome      Kind = "step_outcome"
	KindWorkflowFinished Kind = "workflow_finished"
)

// Event is one append-only trace record.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Workflow  string          `json:"workflow,omitempty"`
	Step      string          `json:"step,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an event with a fresh id and timestamp, encoding payload as
// JSON.
func NewEvent(kind Kind, payload any) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Recorder is a trace sink.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev Event) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Nop discards every event.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, Event) error { return nil }

// Multi fans an event out to several recorders. Every recorder sees the event
// even when an earlier one fails; failures are joined.
type Multi []Recorder

// Record forwards ev to each recorder.
func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogRecorder writes events to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogRecorder creates a recorder that logs events at level.
func NewLogRecorder(logger *slog.Logger, level slog.Level) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger.With("component", "trace"), level: level}
}

// Record logs the event.
func (r *LogRecorder) Record(ctx context.Context, ev Event) error {
	attrs := []slog.Attr{
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
	}
	if ev.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", ev.SessionID))
	}
	if ev.RunID != "" {
		attrs = append(attrs, slog.String("run_id", ev.RunID))
	}
	if ev.Workflow != "" {
		attrs = append(attrs, slog.String("workflow", ev.Workflow))
	}
	if ev.Step != "" {
		attrs = append(attrs, slog.String("step", ev.Step))
	}
	if len(ev.Payload) > 0 {
		attrs = append(attrs, slog.String("payload", string(ev.Payload)))
	}
	r.logger.LogAttrs(ctx, r.level, "trace event", attrs...)
	return nil
}

// Safe calls rec.Record and converts a panic into an error, so a misbehaving
// sink cannot take down the caller.
func Safe(ctx context.Context, rec Recorder, ev Event) (err error) {
	if rec == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trace recorder panic: %v", r)
		}
	}()
	return rec.Record(ctx, ev)
}
