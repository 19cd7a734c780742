package sonify

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cbegin/sonify-go/internal/engine"
	intseq "github.com/cbegin/sonify-go/internal/sequencer"
)

type testInst string

func (i testInst) Name() string { return string(i) }

type testVoice struct {
	mu      sync.Mutex
	cancels int
}

func (v *testVoice) Cancel() {
	v.mu.Lock()
	v.cancels++
	v.mu.Unlock()
}

type synthCall struct {
	inst     engine.Instrument
	when     float64
	pitches  []float64
	duration float64
	gain     float64
	voice    *testVoice
}

type recordingSynth struct {
	mu    sync.Mutex
	now   float64
	calls []synthCall
}

func (s *recordingSynth) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *recordingSynth) Queue(inst engine.Instrument, when float64, pitches []float64, duration float64, gain float64) engine.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &testVoice{}
	s.calls = append(s.calls, synthCall{inst, when, append([]float64(nil), pitches...), duration, gain, v})
	return v
}

func (s *recordingSynth) snapshot() []synthCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]synthCall(nil), s.calls...)
}

type testLoader struct{}

func (testLoader) LoadInstrument(ctx context.Context, patch int) (engine.Instrument, error) {
	if patch == 99 {
		return nil, errors.New("no such patch")
	}
	return testInst("inst"), nil
}

func (testLoader) LoadDrum(ctx context.Context, drum int) (engine.Instrument, float64, error) {
	return testInst("drum"), float64(drum), nil
}

func newTestSession(t *testing.T) (*Session, *recordingSynth, *intseq.VirtualScheduler) {
	t.Helper()
	synth := &recordingSynth{}
	sched := intseq.NewVirtualScheduler()
	s, err := NewSession(48000,
		WithSynth(synth, testLoader{}),
		WithScheduler(sched),
		WithOutput(OutputNone),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	s.RegisterInstrument(0, 0, nil)
	s.RegisterDrumKit(0, 36, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	return s, synth, sched
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestQueuedNoteScenario(t *testing.T) {
	s, synth, sched := newTestSession(t)
	s.SetTempo(40)
	s.AddNoteToQueue(0, 60, 1.0, 0.8)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	calls := synth.snapshot()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	c := calls[0]
	if c.pitches[0] != 60 || !near(c.duration, 0.4) || c.gain != 0.75 || c.when != 0 {
		t.Fatalf("unexpected call %+v", c)
	}
	if d := sched.Delays(); len(d) != 1 || d[0] != 400*time.Millisecond {
		t.Fatalf("delays = %v, want [400ms]", d)
	}
}

func TestQueuedChordScenario(t *testing.T) {
	s, synth, sched := newTestSession(t)
	s.SetTempo(40)
	s.AddChordToQueue(0, []float64{60, 64, 67}, 0.5, 0.5)
	s.Start()
	calls := synth.snapshot()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	for i, want := range []float64{60, 64, 67} {
		if calls[i].pitches[0] != want || !near(calls[i].duration, 0.2) || calls[i].gain != 0.5 {
			t.Fatalf("call %d = %+v", i, calls[i])
		}
	}
	if d := sched.Delays(); d[0] != 25*time.Millisecond {
		t.Fatalf("chord delay = %v", d[0])
	}
}

func TestImmediatePlayback(t *testing.T) {
	s, synth, _ := newTestSession(t)
	s.SetTempo(50)
	s.PlayNote(0, 0.5, 62, 2, 1)
	s.PlayChord(0, 0, []float64{60, 64}, 1, 0.2)
	s.PlayDrum(0, 0.1, 0.3)
	calls := synth.snapshot()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if c := calls[0]; c.when != 0.5 || c.duration != 1 || c.gain != 0.75 {
		t.Fatalf("note = %+v", c)
	}
	if c := calls[1]; len(c.pitches) != 2 || c.duration != 0.5 || c.gain != 0.2 {
		t.Fatalf("chord = %+v", c)
	}
	if c := calls[2]; c.inst.Name() != "drum" || c.pitches[0] != 36 || c.duration != 1 || c.when != 0.1 {
		t.Fatalf("drum = %+v", c)
	}
}

func TestUnboundChannelsAreSilent(t *testing.T) {
	s, synth, _ := newTestSession(t)
	if v := s.PlayNote(5, 0, 60, 1, 1); v != nil {
		t.Fatalf("unbound instrument channel returned a voice")
	}
	if v := s.PlayDrum(5, 0, 1); v != nil {
		t.Fatalf("unbound drum channel returned a voice")
	}
	s.RegisterInstrument(6, 99, nil)
	s.WaitReady(context.Background())
	if v := s.PlayNote(6, 0, 60, 1, 1); v != nil {
		t.Fatalf("failed registration left a playable channel")
	}
	if n := len(synth.snapshot()); n != 0 {
		t.Fatalf("synth calls = %d, want 0", n)
	}
}

func TestPlayMelodyRetriggers(t *testing.T) {
	s, synth, _ := newTestSession(t)
	s.PlayMelody(0, 60, 0.5)
	s.PlayMelody(0, 62, 0.5)
	calls := synth.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].duration != MelodySustain {
		t.Fatalf("melody duration = %v", calls[0].duration)
	}
	if calls[0].voice.cancels != 1 || calls[1].voice.cancels != 0 {
		t.Fatalf("cancels = %d/%d, want 1/0", calls[0].voice.cancels, calls[1].voice.cancels)
	}

	// A rest silences the line without starting anything.
	s.PlayMelody(0, 64, 0)
	if calls[1].voice.cancels != 1 || len(synth.snapshot()) != 2 {
		t.Fatalf("rest did not just cancel the line")
	}

	s.PlayMelody(0, 65, 0.5)
	s.StopMelody(0)
	last := synth.snapshot()[2]
	if last.voice.cancels != 1 {
		t.Fatalf("StopMelody did not cancel")
	}
}

func TestCloseReleasesMelodies(t *testing.T) {
	s, synth, sched := newTestSession(t)
	s.Start()
	s.PlayMelody(0, 60, 0.5)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if synth.snapshot()[0].voice.cancels != 1 {
		t.Fatalf("close left the melody sounding")
	}
	if _, ok := sched.Next(); ok {
		t.Fatalf("close left the dispatch loop armed")
	}
	if err := s.Start(); err == nil {
		t.Fatalf("start after close should fail")
	}
}

func TestGainAndTempoSettings(t *testing.T) {
	s, _, _ := newTestSession(t)
	if s.Tempo() != 0.4 || s.MaxGain() != 0.75 {
		t.Fatalf("defaults tempo=%v max=%v", s.Tempo(), s.MaxGain())
	}
	s.SetTempo(-5)
	if s.Tempo() != 0.4 {
		t.Fatalf("invalid tempo applied")
	}
	s.SetMaxGain(0.5)
	if s.MaxGain() != 0.5 {
		t.Fatalf("max gain = %v", s.MaxGain())
	}
	s.AddNoteToQueue(0, 60, 1, 1)
	if s.Pending() != 1 || s.ClearQueue() != 1 || s.Pending() != 0 {
		t.Fatalf("queue bookkeeping off")
	}
}

func TestSessionOptions(t *testing.T) {
	if _, err := NewSession(48000, WithOutput("speaker")); !errors.Is(err, ErrUnknownOutput) {
		t.Fatalf("err = %v, want ErrUnknownOutput", err)
	}
	if _, err := NewSession(48000, WithEngine("theremin"), WithOutput(OutputNone)); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("err = %v, want ErrUnknownEngine", err)
	}
	if _, err := NewSession(48000, WithEngine(EngineSoundFont), WithOutput(OutputNone)); err == nil {
		t.Fatalf("soundfont without a path should fail")
	}
	if _, err := NewSession(0); err == nil {
		t.Fatalf("zero sample rate should fail")
	}
	s, err := NewSession(48000, WithOutput(OutputNone), WithTempo(80), WithMaxGain(0.3))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Tempo() != 0.8 || s.MaxGain() != 0.3 {
		t.Fatalf("tempo=%v max=%v", s.Tempo(), s.MaxGain())
	}
}
