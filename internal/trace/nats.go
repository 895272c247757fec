package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "conductor.trace"

// Publisher is the part of *nats.Conn the recorder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSRecorder publishes each event as JSON on "<prefix>.<kind>".
type NATSRecorder struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
}

// NewNATSRecorder wraps an existing publisher.
func NewNATSRecorder(pub Publisher, prefix string) *NATSRecorder {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubject
	}
	return &NATSRecorder{pub: pub, prefix: prefix}
}

// ConnectNATS dials url and returns a recorder that owns the connection.
func ConnectNATS(url, prefix string) (*NATSRecorder, error) {
	conn, err := nats.Connect(url, nats.Name("conductor"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	r := NewNATSRecorder(conn, prefix)
	r.conn = conn
	return r, nil
}

// Subject returns the subject an event of kind is published on.
func (r *NATSRecorder) Subject(kind Kind) string {
	return r.prefix + "." + string(kind)
}

// Record publishes ev.
func (r *NATSRecorder) Record(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	if err := r.pub.Publish(r.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("publish trace event: %w", err)
	}
	return nil
}

// Close flushes and closes the connection if the recorder opened it.
func (r *NATSRecorder) Close() error {
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Flush(); err != nil {
		r.conn.Close()
		return fmt.Errorf("flush NATS: %w", err)
	}
	r.conn.Close()
	return nil
}
