package trace

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the queue size used when NewAsync is given zero.
const DefaultBuffer = 256

// Async decouples producers from a slow sink. Record never blocks: when the
// queue is full the event is dropped with a warning.
type Async struct {
	next    Recorder
	queue   chan Event
	logger  *slog.Logger
	dropped atomic.Int64

	// mu guards closed; Record holds it shared across the send so Close
	// cannot close the queue under a sender.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync starts a background goroutine that forwards events to next.
func NewAsync(next Recorder, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		queue:  make(chan Event, buffer),
		logger: logger.With("component", "trace"),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		if err := Safe(context.Background(), a.next, ev); err != nil {
			a.logger.Warn("trace sink failed", "kind", ev.Kind, "event_id", ev.ID, "error", err)
		}
	}
}

// Record enqueues ev. Events recorded after Close are dropped.
func (a *Async) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.queue <- ev:
	default:
		n := a.dropped.Add(1)
		a.logger.Warn("trace queue full, dropping event", "kind", ev.Kind, "dropped", n)
	}
	return nil
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
	return nil
}
