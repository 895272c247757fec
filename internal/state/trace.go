package state

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/trace"
)

// TraceStore appends trace events to the trace_events table.
type TraceStore struct {
	db *DB
}

var _ trace.Recorder = (*TraceStore)(nil)

// NewTraceStore creates a trace store on a migrated database.
func NewTraceStore(db *DB) *TraceStore {
	return &TraceStore{db: db}
}

// Record appends ev.
func (s *TraceStore) Record(_ context.Context, ev trace.Event) error {
	_, err := s.db.Exec(`
		INSERT INTO trace_events (id, kind, session_id, run_id, workflow, step, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Kind), ev.SessionID, ev.RunID, ev.Workflow, ev.Step,
		string(ev.Payload), formatTime(ev.Timestamp))
	if err != nil {
		return errs.Storage("record trace event", err)
	}
	return nil
}

// ListByRun returns the events of a workflow run in insertion order.
func (s *TraceStore) ListByRun(_ context.Context, runID string) ([]trace.Event, error) {
	return s.list("run_id", runID)
}

// ListBySession returns the events of an agent session in insertion order.
func (s *TraceStore) ListBySession(_ context.Context, sessionID string) ([]trace.Event, error) {
	return s.list("session_id", sessionID)
}

func (s *TraceStore) list(column, value string) ([]trace.Event, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, kind, session_id, run_id, workflow, step, payload, recorded_at
		FROM trace_events WHERE %s = ? ORDER BY seq
	`, column), value)
	if err != nil {
		return nil, errs.Storage("list trace events", err)
	}
	defer rows.Close()

	var events []trace.Event
	for rows.Next() {
		var (
			ev         trace.Event
			kind       string
			payload    string
			recordedAt string
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.SessionID, &ev.RunID, &ev.Workflow, &ev.Step, &payload, &recordedAt); err != nil {
			return nil, errs.Storage("scan trace event", err)
		}
		ev.Kind = trace.Kind(kind)
		if payload != "" {
			ev.Payload = []byte(payload)
		}
		if ev.Timestamp, err = parseTime(recordedAt); err != nil {
			return nil, errs.Storage("parse trace timestamp", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("list trace events", err)
	}
	return events, nil
}
