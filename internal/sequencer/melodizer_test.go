package sequencer

import (
	"math"
	"testing"
	"time"

	"github.com/cbegin/sonify-go/internal/engine"
)

type played struct {
	ch       engine.Channel
	offset   float64
	pitch    float64
	duration float64
	gain     float64
}

type recorder struct {
	calls []played
}

func (r *recorder) ScheduleNote(ch engine.Channel, offset float64, pitch float64, duration float64, gain float64) engine.Voice {
	r.calls = append(r.calls, played{ch, offset, pitch, duration, gain})
	return nil
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStepIdleDelay(t *testing.T) {
	m := New(&recorder{}, NewVirtualScheduler(), nil)
	if d := m.Step(); d != IdleDelay {
		t.Fatalf("idle delay = %v, want %v", d, IdleDelay)
	}
}

func TestStepNoteAtTempo(t *testing.T) {
	rec := &recorder{}
	m := New(rec, NewVirtualScheduler(), nil)
	m.SetTempo(40)
	m.AddNote(0, 60, 1.0, 0.8)
	d := m.Step()
	if d != 400*time.Millisecond {
		t.Fatalf("delay = %v, want 400ms", d)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(rec.calls))
	}
	c := rec.calls[0]
	if c.ch != 0 || c.offset != 0 || c.pitch != 60 || !near(c.duration, 0.4) || c.gain != 0.8 {
		t.Fatalf("unexpected call %+v", c)
	}
}

func TestStepChord(t *testing.T) {
	rec := &recorder{}
	m := New(rec, NewVirtualScheduler(), nil)
	m.SetTempo(50)
	m.AddChord(1, []float64{60, 64, 67}, 0.5, 0.6)
	if d := m.Step(); d != ChordDelay {
		t.Fatalf("chord delay = %v, want %v", d, ChordDelay)
	}
	if len(rec.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(rec.calls))
	}
	for i, want := range []float64{60, 64, 67} {
		c := rec.calls[i]
		if c.pitch != want || c.ch != 1 || !near(c.duration, 0.25) || c.gain != 0.6 {
			t.Fatalf("call %d = %+v", i, c)
		}
	}
}

func TestQueueIsLIFO(t *testing.T) {
	rec := &recorder{}
	m := New(rec, NewVirtualScheduler(), nil)
	m.AddNote(0, 60, 0.1, 1)
	m.AddNote(0, 62, 0.1, 1)
	m.AddNote(0, 64, 0.1, 1)
	for m.Pending() > 0 {
		m.Step()
	}
	got := []float64{rec.calls[0].pitch, rec.calls[1].pitch, rec.calls[2].pitch}
	if got[0] != 64 || got[1] != 62 || got[2] != 60 {
		t.Fatalf("dispatch order = %v, want [64 62 60]", got)
	}
}

func TestTempoReadAtDispatch(t *testing.T) {
	rec := &recorder{}
	m := New(rec, NewVirtualScheduler(), nil)
	m.AddNote(0, 60, 1.0, 1)
	m.SetTempo(100)
	if d := m.Step(); d != time.Second {
		t.Fatalf("delay = %v, want 1s", d)
	}
	if !near(rec.calls[0].duration, 1.0) {
		t.Fatalf("duration = %v, want 1", rec.calls[0].duration)
	}
}

func TestInvalidTempoIgnored(t *testing.T) {
	m := New(&recorder{}, nil, nil)
	for _, p := range []float64{0, -10, math.NaN(), math.Inf(1)} {
		m.SetTempo(p)
	}
	if got := m.Tempo(); got != DefaultTempo {
		t.Fatalf("tempo = %v, want %v", got, DefaultTempo)
	}
}

func TestAddChordEdgeCases(t *testing.T) {
	rec := &recorder{}
	m := New(rec, NewVirtualScheduler(), nil)
	m.AddChord(0, nil, 1, 1)
	if m.Pending() != 0 {
		t.Fatalf("empty chord was queued")
	}
	m.AddChord(0, []float64{72}, 1, 1)
	// A single pitch paces like a note.
	if d := m.Step(); d != 400*time.Millisecond {
		t.Fatalf("single-pitch chord delay = %v", d)
	}

	pitches := []float64{60, 64}
	m.AddChord(0, pitches, 1, 1)
	pitches[0] = 0
	m.Step()
	if rec.calls[1].pitch != 60 {
		t.Fatalf("queued chord aliases the caller's slice")
	}
}

func TestClearDropsPending(t *testing.T) {
	rec := &recorder{}
	m := New(rec, NewVirtualScheduler(), nil)
	m.AddNote(0, 60, 1, 1)
	m.AddNote(0, 62, 1, 1)
	if n := m.Clear(); n != 2 {
		t.Fatalf("cleared %d, want 2", n)
	}
	if d := m.Step(); d != IdleDelay || len(rec.calls) != 0 {
		t.Fatalf("clear left events behind")
	}
}

func TestLoopPacing(t *testing.T) {
	rec := &recorder{}
	sched := NewVirtualScheduler()
	m := New(rec, sched, nil)
	m.SetTempo(40)
	m.AddNote(0, 60, 1.0, 1)
	m.AddChord(0, []float64{60, 64, 67}, 1.0, 1)

	m.Start()
	m.Start()
	// The chord was pushed last, so it plays first.
	if len(rec.calls) != 3 {
		t.Fatalf("after start calls = %d, want 3", len(rec.calls))
	}
	sched.Advance(ChordDelay)
	if len(rec.calls) != 4 || rec.calls[3].pitch != 60 {
		t.Fatalf("note not dispatched 25ms after chord: %+v", rec.calls)
	}
	want := []time.Duration{ChordDelay, 400 * time.Millisecond}
	got := sched.Delays()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	sched.Advance(400 * time.Millisecond)
	sched.Advance(IdleDelay)
	got = sched.Delays()
	if got[len(got)-1] != IdleDelay {
		t.Fatalf("empty queue should poll at %v, got %v", IdleDelay, got[len(got)-1])
	}

	m.Stop()
	if _, ok := sched.Next(); ok {
		t.Fatalf("stop left a pending step")
	}
	m.AddNote(0, 70, 1, 1)
	sched.Advance(time.Second)
	if len(rec.calls) != 4 {
		t.Fatalf("stopped loop kept dispatching")
	}
}
