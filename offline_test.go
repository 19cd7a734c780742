package sonify

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func peak(samples []float32) float64 {
	var p float64
	for _, v := range samples {
		p = math.Max(p, math.Abs(float64(v)))
	}
	return p
}

func TestRendererPlaysQueuedNotes(t *testing.T) {
	r, err := NewRenderer(8000)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	s := r.Session()
	s.RegisterInstrument(0, 0, nil)
	s.RegisterDrumSet([]int{36}, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	r.Advance(100 * time.Millisecond)
	if got := peak(r.Samples()); got != 0 {
		t.Fatalf("silence expected before anything plays, peak %v", got)
	}

	s.AddNoteToQueue(0, 60, 0.5, 0.6)
	s.AddNoteToQueue(0, 67, 0.5, 0.6)
	s.PlayDrum(0, 0, 0.5)
	r.Advance(time.Second)

	samples := r.Samples()
	if len(samples) != 2*8800 {
		t.Fatalf("rendered %d samples, want %d", len(samples), 2*8800)
	}
	if peak(samples) == 0 {
		t.Fatalf("expected audible output")
	}
	if s.Pending() != 0 {
		t.Fatalf("queue not drained: %d", s.Pending())
	}
	if r.Elapsed() != 1100*time.Millisecond {
		t.Fatalf("elapsed = %v", r.Elapsed())
	}
}

func TestRendererIsDeterministic(t *testing.T) {
	render := func() []float32 {
		r, err := NewRenderer(8000)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		s := r.Session()
		s.RegisterInstrument(0, 40, nil)
		s.Start()
		s.AddChordToQueue(0, []float64{57, 60, 64}, 0.3, 0.5)
		s.AddNoteToQueue(0, 69, 0.2, 0.5)
		r.Advance(500 * time.Millisecond)
		return r.Samples()
	}
	a, b := render(), render()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestWriteWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	samples := []float32{0, 0.5, -0.5, 1}
	if err := WriteWAV(&buf, samples, 44100, 2); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	if len(data) != 44+16 {
		t.Fatalf("wav size = %d, want 60", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Fatalf("bad chunk ids")
	}
	le := binary.LittleEndian
	if le.Uint16(data[20:]) != 3 || le.Uint16(data[22:]) != 2 || le.Uint32(data[24:]) != 44100 {
		t.Fatalf("bad fmt chunk")
	}
	if le.Uint32(data[40:]) != 16 || le.Uint32(data[4:]) != 52 {
		t.Fatalf("bad sizes")
	}
	if got := math.Float32frombits(le.Uint32(data[52:])); got != -0.5 {
		t.Fatalf("third sample = %v", got)
	}
}
