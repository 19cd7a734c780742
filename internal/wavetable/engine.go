package wavetable

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/sonify-go/internal/engine"
)

const twoPi = math.Pi * 2

const maxVoices = 32

// Params controls the wavetable engine.
type Params struct {
	Polyphony  int
	MasterGain float64
	LPFCutoff  float64 // lowpass filter cutoff in Hz (0 = disabled)
}

// DefaultParams returns sensible defaults for wavetable playback.
func DefaultParams() Params {
	return Params{
		Polyphony:  maxVoices,
		MasterGain: 0.5,
		LPFCutoff:  12000,
	}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type voice struct {
	active   bool
	id       int
	patch    *Patch
	gain     float64
	freq     float64
	phase    float64 // current position in the wavetable [0, tableLen)
	env      float64
	envState envState
	start    int64 // frame the voice begins sounding
	stop     int64 // frame the release begins
	age      int64 // frames sounded, drives vibrato and pitch drop
}

// Engine plays Patch handles and keeps the frame clock the session schedules
// against. Queue may be called from any goroutine; Process runs on the audio
// thread.
type Engine struct {
	mu         sync.Mutex
	sampleRate float64
	params     Params
	voices     []voice
	nextID     int
	frame      atomic.Int64
	masterGain uint64
	lpfL       float64
	lpfR       float64
	lpfAlpha   float64
}

// New creates a wavetable engine at the given sample rate.
func New(sampleRate int, params Params) *Engine {
	if params.Polyphony <= 0 || params.Polyphony > maxVoices {
		params.Polyphony = maxVoices
	}
	e := &Engine{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]voice, params.Polyphony),
		masterGain: math.Float64bits(params.MasterGain),
	}
	if params.LPFCutoff > 0 && params.LPFCutoff < float64(sampleRate)/2 {
		rc := 1.0 / (twoPi * params.LPFCutoff)
		dt := 1.0 / float64(sampleRate)
		e.lpfAlpha = dt / (rc + dt)
	}
	return e
}

// SampleRate returns the engine's output rate in Hz.
func (e *Engine) SampleRate() int { return int(e.sampleRate) }

// Now returns seconds of audio rendered so far.
func (e *Engine) Now() float64 {
	return float64(e.frame.Load()) / e.sampleRate
}

// Owns reports whether inst is a wavetable patch.
func (e *Engine) Owns(inst engine.Instrument) bool {
	_, ok := inst.(*Patch)
	return ok
}

// Queue schedules one voice per pitch starting at absolute time when.
func (e *Engine) Queue(inst engine.Instrument, when float64, pitches []float64, duration float64, gain float64) engine.Voice {
	patch, ok := inst.(*Patch)
	if !ok || len(pitches) == 0 || !(gain > 0) {
		return nil
	}
	now := e.frame.Load()
	start := int64(math.Round(when * e.sampleRate))
	if start < now {
		start = now
	}
	length := int64(math.Round(duration * e.sampleRate))
	if length < 1 {
		length = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := &handle{e: e, ids: make([]int, 0, len(pitches))}
	for _, p := range pitches {
		slot := e.stealVoice()
		id := e.nextID
		e.nextID++
		e.voices[slot] = voice{
			active:   true,
			id:       id,
			patch:    patch,
			gain:     clamp(gain, 0, 1),
			freq:     midiToFreq(p),
			envState: envAttack,
			start:    start,
			stop:     start + length,
		}
		h.ids = append(h.ids, id)
	}
	return h
}

type handle struct {
	e    *Engine
	ids  []int
	once sync.Once
}

func (h *handle) Cancel() {
	h.once.Do(func() { h.e.cancel(h.ids) })
}

// cancel releases sounding voices and drops ones that have not started.
func (e *Engine) cancel(ids []int) {
	now := e.frame.Load()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		for i := range e.voices {
			v := &e.voices[i]
			if !v.active || v.id != id {
				continue
			}
			if v.start > now {
				*v = voice{}
				continue
			}
			if v.envState != envRelease && v.envState != envOff {
				v.envState = envRelease
			}
		}
	}
}

// Process renders interleaved stereo frames into dst.
func (e *Engine) Process(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i+1 < len(dst); i += 2 {
		dst[i], dst[i+1] = e.renderFrame()
		e.frame.Add(1)
	}
}

func (e *Engine) renderFrame() (float32, float32) {
	frame := e.frame.Load()
	gainMul := e.masterGainValue()
	var mix float64
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active || frame < v.start {
			continue
		}
		if frame >= v.stop && v.envState < envRelease {
			v.envState = envRelease
		}
		env := e.advanceEnv(v)
		if !v.active {
			continue
		}
		table := v.patch.table
		if len(table) == 0 {
			continue
		}
		tableLen := float64(len(table))

		// Linear interpolation between adjacent samples.
		idx := math.Floor(v.phase)
		frac := v.phase - idx
		i0 := int(idx) % len(table)
		if i0 < 0 {
			i0 += len(table)
		}
		i1 := (i0 + 1) % len(table)
		sig := table[i0]*(1-frac) + table[i1]*frac
		mix += sig * env * v.gain * gainMul

		freq := v.freq
		secs := float64(v.age) / e.sampleRate
		if v.patch.PitchDrop != 0 {
			freq *= math.Pow(2, -v.patch.PitchDrop*secs/12)
		}
		if v.patch.VibratoDepth != 0 && v.patch.VibratoRate > 0 {
			freq *= math.Pow(2, v.patch.VibratoDepth*math.Sin(twoPi*v.patch.VibratoRate*secs)/12)
		}
		v.age++

		v.phase += freq * tableLen / e.sampleRate
		for v.phase >= tableLen {
			v.phase -= tableLen
		}
	}

	l, r := mix, mix
	if e.lpfAlpha > 0 {
		e.lpfL += e.lpfAlpha * (l - e.lpfL)
		e.lpfR += e.lpfAlpha * (r - e.lpfR)
		l, r = e.lpfL, e.lpfR
	}
	return float32(clamp(l, -1, 1)), float32(clamp(r, -1, 1))
}

// SetMasterGain sets the master gain atomically.
func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

// ActiveVoiceCount returns the number of voices scheduled or sounding.
func (e *Engine) ActiveVoiceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

func (e *Engine) masterGainValue() float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.masterGain))
}

// stealVoice picks a free slot, falling back to the quietest sounding voice.
func (e *Engine) stealVoice() int {
	for i := range e.voices {
		if !e.voices[i].active {
			return i
		}
	}
	quiet := 0
	minEnv := e.voices[0].env
	for i := 1; i < len(e.voices); i++ {
		if e.voices[i].env < minEnv {
			minEnv = e.voices[i].env
			quiet = i
		}
	}
	return quiet
}

func (e *Engine) advanceEnv(v *voice) float64 {
	p := v.patch
	switch v.envState {
	case envAttack:
		step := 1.0 / (p.AttackSec * e.sampleRate)
		if !(step > 0) || math.IsInf(step, 0) {
			step = 1
		}
		v.env += step
		if v.env >= 1 {
			v.env = 1
			v.envState = envDecay
		}
	case envDecay:
		step := (1 - p.SustainLvl) / (p.DecaySec * e.sampleRate)
		if !(step > 0) || math.IsInf(step, 0) {
			step = 1
		}
		v.env -= step
		if v.env <= p.SustainLvl {
			v.env = p.SustainLvl
			v.envState = envSustain
		}
		if v.env <= 0.0001 {
			v.env = 0
			v.envState = envOff
			v.active = false
		}
	case envSustain:
		// hold
	case envRelease:
		step := 1.0 / (p.ReleaseSec * e.sampleRate)
		if !(step > 0) || math.IsInf(step, 0) {
			step = 1
		}
		v.env -= step
		if v.env <= 0.0001 {
			v.env = 0
			v.envState = envOff
			v.active = false
		}
	case envOff:
		v.active = false
		v.env = 0
	}
	return v.env
}

func midiToFreq(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
