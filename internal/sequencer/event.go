package sequencer

import (
	"sync"

	"github.com/cbegin/sonify-go/internal/engine"
)

// Event is a pending queue entry: either a Note or a Chord.
type Event interface {
	channel() engine.Channel
	gain() float64
}

// Note is a single pitch. The dispatch loop paces itself by its duration.
type Note struct {
	Channel    engine.Channel
	Pitch      float64
	DurationMS float64
	Gain       float64
}

// Chord is two or more pitches fired together in a short burst.
type Chord struct {
	Channel    engine.Channel
	Pitches    []float64
	DurationMS float64
	Gain       float64
}

func (n Note) channel() engine.Channel  { return n.Channel }
func (n Note) gain() float64            { return n.Gain }
func (c Chord) channel() engine.Channel { return c.Channel }
func (c Chord) gain() float64           { return c.Gain }

// Queue is a LIFO buffer of pending events safe for concurrent producers.
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// Push appends ev.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Pop removes the most recently pushed event.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	if n == 0 {
		return nil, false
	}
	ev := q.events[n-1]
	q.events[n-1] = nil
	q.events = q.events[:n-1]
	return ev, true
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Clear drops every pending event and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	q.events = nil
	return n
}
