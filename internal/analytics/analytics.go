// Package analytics provides fire-and-forget event recording. Delivery is
// best-effort: events are dropped rather than ever blocking the trade path.
package analytics

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one recorded user action.
type Event struct {
	Name       string    `json:"name"`
	UserID     string    `json:"user_id"`
	ContractID string    `json:"contract_id"`
	Slug       string    `json:"slug"`
	Direction  string    `json:"direction"`
	At         time.Time `json:"at"`
}

// Sink receives delivered events.
type Sink interface {
	Record(Event)
}

// Recorder queues events onto a buffered channel drained by Run. Track
// never blocks; if the buffer is full the event is dropped.
type Recorder struct {
	sink   Sink
	events chan Event
	done   chan struct{}
}

// NewRecorder creates a recorder delivering to sink. Call Run in a
// goroutine, Close on shutdown.
func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer < 1 {
		buffer = 256
	}
	return &Recorder{
		sink:   sink,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Run drains the queue until Close is called.
func (r *Recorder) Run() {
	for {
		select {
		case ev := <-r.events:
			r.sink.Record(ev)
		case <-r.done:
			// Drain what's left, then stop.
			for {
				select {
				case ev := <-r.events:
					r.sink.Record(ev)
				default:
					return
				}
			}
		}
	}
}

// Close stops Run after draining queued events.
func (r *Recorder) Close() {
	close(r.done)
}

// Track enqueues an event. Best-effort: drops when the buffer is full.
func (r *Recorder) Track(name, userID, contractID, slug, direction string) {
	ev := Event{
		Name:       name,
		UserID:     userID,
		ContractID: contractID,
		Slug:       slug,
		Direction:  direction,
		At:         time.Now().UTC(),
	}
	select {
	case r.events <- ev:
	default:
		// Drop rather than block the caller.
	}
}

// SlogSink logs events through slog.
type SlogSink struct{}

func (SlogSink) Record(ev Event) {
	slog.Info("analytics event",
		"name", ev.Name,
		"user", ev.UserID,
		"contract", ev.ContractID,
		"slug", ev.Slug,
		"direction", ev.Direction,
	)
}

// MemorySink collects events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
