package soundfont

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func bogusFont(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bogus.sf2")
	if err := os.WriteFile(path, []byte("not a soundfont"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewRejectsMissingFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing.sf2"), 48000); err == nil {
		t.Fatalf("expected error for missing soundfont")
	}
	if _, err := New(bogusFont(t), 0); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}

func TestLoaderReportsParseError(t *testing.T) {
	e, err := New(bogusFont(t), 48000)
	if err != nil {
		t.Fatal(err)
	}
	l := NewLoader(e)
	if _, err := l.LoadInstrument(context.Background(), 0); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, _, err := l.LoadDrum(context.Background(), 36); err == nil {
		t.Fatalf("expected parse error for drums too")
	}
	if _, err := l.LoadInstrument(context.Background(), 200); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestQueueAndCancelBookkeeping(t *testing.T) {
	e, err := New(bogusFont(t), 48000)
	if err != nil {
		t.Fatal(err)
	}
	p := &Preset{name: "program-0", channel: 0}
	if !e.Owns(p) {
		t.Fatalf("engine should own its presets")
	}
	if v := e.Queue(p, 0, []float64{60}, 1, 0); v != nil {
		t.Fatalf("zero gain should not queue")
	}
	v := e.Queue(p, 1, []float64{60, 64, 67}, 1, 0.5)
	if v == nil || e.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", e.Pending())
	}
	v.Cancel()
	v.Cancel()
	if e.Pending() != 0 {
		t.Fatalf("cancel left %d notes", e.Pending())
	}
}

func TestProcessWithoutFontIsSilent(t *testing.T) {
	e, err := New(bogusFont(t), 1000)
	if err != nil {
		t.Fatal(err)
	}
	buf := []float32{1, 1, 1, 1}
	e.Process(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("buf[%d] = %v, want 0", i, v)
		}
	}
	if got := e.Now(); got != 0.002 {
		t.Fatalf("now = %v, want 0.002", got)
	}
}

func TestMidiKeyClamps(t *testing.T) {
	for _, tc := range []struct {
		pitch float64
		want  int32
	}{
		{60.4, 60},
		{60.6, 61},
		{-3, 0},
		{200, 127},
	} {
		if got := midiKey(tc.pitch); got != tc.want {
			t.Fatalf("midiKey(%v) = %d, want %d", tc.pitch, got, tc.want)
		}
	}
}
