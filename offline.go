package sonify

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"time"

	intseq "github.com/cbegin/sonify-go/internal/sequencer"
	intwt "github.com/cbegin/sonify-go/internal/wavetable"
)

// Renderer runs a wavetable session on a virtual clock so that the dispatch
// loop and the audio frames advance together, faster than real time.
type Renderer struct {
	session  *Session
	engine   *intwt.Engine
	sched    *intseq.VirtualScheduler
	samples  []float32
	rendered int64
	buf      []float32
}

// NewRenderer creates an offline session. Engine, output and scheduler
// options are overridden; everything else applies.
func NewRenderer(sampleRate int, opts ...Option) (*Renderer, error) {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	eng := intwt.New(sampleRate, intwt.DefaultParams())
	sched := intseq.NewVirtualScheduler()
	cfg.synth = eng
	cfg.loader = intwt.Loader{Tables: cfg.wavetables}
	cfg.scheduler = sched
	cfg.output = OutputNone
	s, err := newSession(sampleRate, cfg)
	if err != nil {
		return nil, err
	}
	return &Renderer{session: s, engine: eng, sched: sched}, nil
}

// Session returns the session the renderer drives.
func (r *Renderer) Session() *Session { return r.session }

// Elapsed returns the virtual time rendered so far.
func (r *Renderer) Elapsed() time.Duration { return r.sched.Now() }

// Advance renders d worth of audio, firing dispatch steps at their exact
// virtual times. Pending registrations are waited for first.
func (r *Renderer) Advance(d time.Duration) {
	_ = r.session.WaitReady(context.Background())
	end := r.sched.Now() + d
	for {
		now := r.sched.Now()
		step := end - now
		if next, ok := r.sched.Next(); ok && next < step {
			step = next
		}
		r.renderUntil(now + step)
		r.sched.Advance(step)
		if r.sched.Now() >= end {
			return
		}
	}
}

func (r *Renderer) renderUntil(t time.Duration) {
	target := int64(math.Round(t.Seconds() * float64(r.engine.SampleRate())))
	n := target - r.rendered
	if n <= 0 {
		return
	}
	need := int(n) * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	buf := r.buf[:need]
	r.engine.Process(buf)
	r.samples = append(r.samples, buf...)
	r.rendered = target
}

// Samples returns the interleaved stereo frames rendered so far.
func (r *Renderer) Samples() []float32 {
	out := make([]float32, len(r.samples))
	copy(out, r.samples)
	return out
}

// Close closes the underlying session.
func (r *Renderer) Close() error { return r.session.Close() }

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WriteWAV encodes samples as a 32-bit float WAV stream.
func WriteWAV(w io.Writer, samples []float32, sampleRate int, channels int) error {
	dataSize := uint32(len(samples) * 4)
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   3, // IEEE float
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * 4),
		BlockAlign:    uint16(channels * 4),
		BitsPerSample: 32,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, samples)
}
