// Package history journals lifecycle events of the worker and the overlay.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventWorkerStart        EventType = "worker_start"
	EventWorkerStop         EventType = "worker_stop"
	EventWorkerExitDetected EventType = "worker_exit_detected"
	EventOverlayOpen        EventType = "overlay_open"
	EventOverlayClose       EventType = "overlay_close"
)

// Event is one lifecycle transition.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Subject    string    `json:"subject"` // worker binary name or overlay label
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// sendTimeout bounds a single Send so a slow sink cannot hold up the queue forever.
const sendTimeout = 2 * time.Second

// queueSize is how many events may wait for the sinks before new ones are dropped.
const queueSize = 256

type item struct {
	e    Event
	done chan struct{} // set for flush markers only
}

// Recorder fans events out to sinks from one background goroutine, so Record
// never waits on a sink. Failures are logged and dropped. The zero value and
// a nil *Recorder are valid and record nothing.
type Recorder struct {
	sinks []Sink
	log   *slog.Logger

	mu      sync.RWMutex // write-held only by Close
	closed  bool
	queue   chan item
	drained chan struct{}
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{sinks: append([]Sink(nil), sinks...), log: log}
	if len(r.sinks) > 0 {
		r.queue = make(chan item, queueSize)
		r.drained = make(chan struct{})
		go r.drain()
	}
	return r
}

// Record stamps e with an ID and time where missing and queues it for every
// sink. All sinks see the same ID. It does not block: with the queue full
// the event is dropped and logged.
func (r *Recorder) Record(e Event) {
	if r == nil || r.queue == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- item{e: e}:
	default:
		r.log.Warn("history queue full, dropping event", "event", e.Type, "subject", e.Subject)
	}
}

// Flush blocks until every event recorded before the call has been handed to
// the sinks.
func (r *Recorder) Flush() {
	if r == nil || r.queue == nil {
		return
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	done := make(chan struct{})
	r.queue <- item{done: done}
	r.mu.RUnlock()
	<-done
}

// Close sends what is queued and stops the background goroutine. Later
// Records are ignored.
func (r *Recorder) Close() {
	if r == nil || r.queue == nil {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.drained
}

func (r *Recorder) drain() {
	defer close(r.drained)
	for it := range r.queue {
		if it.done != nil {
			close(it.done)
			continue
		}
		r.send(it.e)
	}
}

func (r *Recorder) send(e Event) {
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("history send failed", "event", e.Type, "subject", e.Subject, "error", err)
		}
		cancel()
	}
}
