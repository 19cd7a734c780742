package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

type rampSource struct{ next float32 }

func (s *rampSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = s.next
		s.next += 0.125
	}
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	r := NewStreamReader(&rampSource{})
	p := make([]byte, 8*2+3) // two whole frames and a partial one
	n, err := r.Read(p)
	if err != nil {
		t.Fatal(err)
	}
	if n != 16 {
		t.Fatalf("read %d bytes, want 16", n)
	}
	for i, want := range []float32{0, 0.125, 0.25, 0.375} {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if got != want {
			t.Fatalf("sample %d = %v, want %v", i, got, want)
		}
	}
	if n, _ := r.Read(make([]byte, 7)); n != 0 {
		t.Fatalf("short buffer read %d bytes", n)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}
