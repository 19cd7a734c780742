package engine

import (
	"sync"
)

// Owner is implemented by synths that can tell their own instrument handles apart.
type Owner interface {
	Owns(inst Instrument) bool
}

// renderer matches audio.SampleSource without importing it.
type renderer interface {
	Process(dst []float32)
}

// Mux routes Queue calls to the synth that owns the instrument handle and
// mixes the output of every synth that renders audio. The first synth added
// is the primary one; its clock is the Mux clock.
type Mux struct {
	mu     sync.Mutex
	synths []Synth
	buf    []float32 // audio thread scratch
}

// NewMux creates a Mux over synths, the first being primary.
func NewMux(synths ...Synth) *Mux {
	m := &Mux{}
	for _, s := range synths {
		m.Add(s)
	}
	return m
}

// Add registers another synth.
func (m *Mux) Add(s Synth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.synths {
		if existing == s {
			return
		}
	}
	m.synths = append(m.synths, s)
}

func (m *Mux) all() []Synth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Synth, len(m.synths))
	copy(out, m.synths)
	return out
}

// Now reads the primary synth's clock.
func (m *Mux) Now() float64 {
	synths := m.all()
	if len(synths) == 0 {
		return 0
	}
	return synths[0].Now()
}

// Owns reports whether any routed synth owns inst.
func (m *Mux) Owns(inst Instrument) bool {
	return m.route(inst) != nil
}

func (m *Mux) route(inst Instrument) Synth {
	for _, s := range m.all() {
		if o, ok := s.(Owner); ok && o.Owns(inst) {
			return s
		}
	}
	return nil
}

// Queue re-bases when onto the owning synth's clock before forwarding.
func (m *Mux) Queue(inst Instrument, when float64, pitches []float64, duration float64, gain float64) Voice {
	target := m.route(inst)
	if target == nil {
		return nil
	}
	offset := when - m.Now()
	return target.Queue(inst, target.Now()+offset, pitches, duration, gain)
}

// Process mixes all rendering synths into dst. It runs on the audio thread only.
func (m *Mux) Process(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	for _, s := range m.all() {
		r, ok := s.(renderer)
		if !ok {
			continue
		}
		if cap(m.buf) < len(dst) {
			m.buf = make([]float32, len(dst))
		}
		buf := m.buf[:len(dst)]
		r.Process(buf)
		for i, v := range buf {
			dst[i] += v
		}
	}
}
