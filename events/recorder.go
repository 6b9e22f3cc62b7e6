package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event with its delivery metadata.
type Envelope struct {
	ID        uuid.UUID `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Event     Event     `json:"event"`
}

// Wrap assigns delivery metadata to evs. Sequence numbers start at next.
func Wrap(next uint64, evs ...Event) []Envelope {
	now := time.Now().UTC()
	out := make([]Envelope, 0, len(evs))
	for i, ev := range evs {
		out = append(out, Envelope{
			ID:        uuid.New(),
			Seq:       next + uint64(i),
			Timestamp: now,
			Kind:      ev.Kind(),
			Event:     ev,
		})
	}
	return out
}

// Recorder keeps the most recent events in memory.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	next     uint64
	events   []Envelope
}

var _ Sink = (*Recorder)(nil)

// NewRecorder creates a recorder retaining at most capacity events. A
// non-positive capacity retains everything.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{capacity: capacity, next: 1}
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, evs ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Wrap(r.next, evs...)...)
	r.next += uint64(len(evs))
	if r.capacity > 0 && len(r.events) > r.capacity {
		r.events = append([]Envelope(nil), r.events[len(r.events)-r.capacity:]...)
	}
}

// Envelopes returns the retained events with sequence number > after.
func (r *Recorder) Envelopes(after uint64) []Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Envelope{}
	for _, e := range r.events {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Events returns the retained events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

// OfKind returns the retained events of the given kind, oldest first.
func (r *Recorder) OfKind(kind Kind) []Event {
	out := []Event{}
	for _, ev := range r.Events() {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops all retained events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
