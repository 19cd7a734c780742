package sequencer

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbegin/sonify-go/internal/engine"
)

const (
	// ChordDelay is the wait after dispatching a chord.
	ChordDelay = 25 * time.Millisecond
	// IdleDelay is the poll interval while the queue is empty.
	IdleDelay = 50 * time.Millisecond
	// DefaultTempo scales queued durations until SetTempo is called.
	DefaultTempo = 0.4
)

// NotePlayer is the part of engine.Adapter the dispatch loop needs.
type NotePlayer interface {
	ScheduleNote(ch engine.Channel, offset float64, pitch float64, duration float64, gain float64) engine.Voice
}

// Melodizer drains the event queue one entry per step, pacing each step by
// what it just played. It never blocks producers.
type Melodizer struct {
	queue  Queue
	player NotePlayer
	sched  Scheduler
	log    *slog.Logger
	tempo  uint64

	mu      sync.Mutex
	started bool
	stopped bool
	timer   Timer
}

func New(player NotePlayer, sched Scheduler, log *slog.Logger) *Melodizer {
	if sched == nil {
		sched = SystemScheduler()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Melodizer{
		player: player,
		sched:  sched,
		log:    log,
		tempo:  math.Float64bits(DefaultTempo),
	}
}

// SetTempo sets the duration multiplier to percent/100. Non-positive or
// non-finite values are ignored.
func (m *Melodizer) SetTempo(percent float64) {
	t := percent / 100
	if !(t > 0) || math.IsInf(t, 0) {
		m.log.Warn("ignoring invalid tempo", "percent", percent)
		return
	}
	atomic.StoreUint64(&m.tempo, math.Float64bits(t))
}

// Tempo returns the current duration multiplier.
func (m *Melodizer) Tempo() float64 {
	return math.Float64frombits(atomic.LoadUint64(&m.tempo))
}

// AddNote queues one pitch lasting seconds (before tempo scaling).
func (m *Melodizer) AddNote(ch engine.Channel, pitch float64, seconds float64, gain float64) {
	m.queue.Push(Note{Channel: ch, Pitch: pitch, DurationMS: seconds * 1000, Gain: gain})
}

// AddChord queues pitches to sound together. A single pitch is queued as a
// Note; an empty list is dropped.
func (m *Melodizer) AddChord(ch engine.Channel, pitches []float64, seconds float64, gain float64) {
	switch len(pitches) {
	case 0:
		m.log.Debug("dropping empty chord", "channel", int(ch))
	case 1:
		m.AddNote(ch, pitches[0], seconds, gain)
	default:
		cp := make([]float64, len(pitches))
		copy(cp, pitches)
		m.queue.Push(Chord{Channel: ch, Pitches: cp, DurationMS: seconds * 1000, Gain: gain})
	}
}

// Pending returns the number of queued events.
func (m *Melodizer) Pending() int { return m.queue.Len() }

// Clear discards queued events that have not been dispatched.
func (m *Melodizer) Clear() int { return m.queue.Clear() }

// Step dispatches at most one event and returns the delay before the next
// step. Durations are scaled by the tempo in effect now.
func (m *Melodizer) Step() time.Duration {
	ev, ok := m.queue.Pop()
	if !ok {
		return IdleDelay
	}
	tempo := m.Tempo()
	switch ev := ev.(type) {
	case Note:
		m.player.ScheduleNote(ev.Channel, 0, ev.Pitch, tempo*ev.DurationMS/1000, ev.Gain)
		return millis(tempo * ev.DurationMS)
	case Chord:
		for _, p := range ev.Pitches {
			m.player.ScheduleNote(ev.Channel, 0, p, tempo*ev.DurationMS/1000, ev.Gain)
		}
		return ChordDelay
	}
	return IdleDelay
}

// Start runs the first step immediately and keeps the loop going until Stop.
// Later calls do nothing.
func (m *Melodizer) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	m.tick()
}

// Stop cancels the pending step. The loop cannot be restarted.
func (m *Melodizer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Melodizer) tick() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	next := m.Step()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.timer = m.sched.AfterFunc(next, m.tick)
	}
}

func millis(ms float64) time.Duration {
	if !(ms > 0) {
		return 0
	}
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}
