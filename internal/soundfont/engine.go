package soundfont

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cbegin/sonify-go/internal/engine"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

// DrumChannel is the General MIDI percussion channel.
const DrumChannel = 9

// Preset is a program bound to one MIDI channel of the synthesizer.
type Preset struct {
	name    string
	channel int32
	program int32
}

func (p *Preset) Name() string { return p.name }

type note struct {
	channel int32
	key     int32
	vel     int32
	start   int64
	stop    int64
	on      bool
}

// Engine renders a SoundFont through meltysynth. The font is parsed lazily,
// on the first instrument load, so decoding runs on the registry's goroutine.
type Engine struct {
	path       string
	sampleRate int

	loadOnce sync.Once
	loadErr  error

	mu         sync.Mutex
	synth      *meltysynth.Synthesizer
	notes      map[int]*note
	nextID     int
	left       []float32
	right      []float32
	frame      atomic.Int64
	masterGain uint64
}

// New prepares an engine for the SoundFont at path. It fails fast if the
// file is missing; parsing is deferred.
func New(path string, sampleRate int) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("soundfont %s: %w", path, err)
	}
	return &Engine{
		path:       path,
		sampleRate: sampleRate,
		notes:      make(map[int]*note),
		masterGain: math.Float64bits(1),
	}, nil
}

func (e *Engine) load() error {
	e.loadOnce.Do(func() {
		data, err := os.ReadFile(e.path)
		if err != nil {
			e.loadErr = fmt.Errorf("failed to load soundfont %s: %w", e.path, err)
			return
		}
		sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
		if err != nil {
			e.loadErr = fmt.Errorf("failed to parse soundfont %s: %w", e.path, err)
			return
		}
		settings := meltysynth.NewSynthesizerSettings(int32(e.sampleRate))
		synth, err := meltysynth.NewSynthesizer(sf, settings)
		if err != nil {
			e.loadErr = fmt.Errorf("failed to create synthesizer: %w", err)
			return
		}
		e.mu.Lock()
		e.synth = synth
		e.mu.Unlock()
	})
	return e.loadErr
}

// programChange binds program to a MIDI channel.
func (e *Engine) programChange(channel, program int32) error {
	if err := e.load(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.synth.ProcessMidiMessage(channel, 0xC0, program, 0)
	return nil
}

// Now returns seconds of audio rendered so far.
func (e *Engine) Now() float64 {
	return float64(e.frame.Load()) / float64(e.sampleRate)
}

// Owns reports whether inst is a SoundFont preset.
func (e *Engine) Owns(inst engine.Instrument) bool {
	_, ok := inst.(*Preset)
	return ok
}

// Queue schedules a NoteOn/NoteOff pair per pitch on the preset's channel.
func (e *Engine) Queue(inst engine.Instrument, when float64, pitches []float64, duration float64, gain float64) engine.Voice {
	p, ok := inst.(*Preset)
	if !ok || len(pitches) == 0 || !(gain > 0) {
		return nil
	}
	now := e.frame.Load()
	start := int64(math.Round(when * float64(e.sampleRate)))
	if start < now {
		start = now
	}
	length := int64(math.Round(duration * float64(e.sampleRate)))
	if length < 1 {
		length = 1
	}
	vel := int32(math.Round(gain * 127))
	if vel < 1 {
		vel = 1
	}
	if vel > 127 {
		vel = 127
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := &handle{e: e}
	for _, pitch := range pitches {
		id := e.nextID
		e.nextID++
		e.notes[id] = &note{
			channel: p.channel,
			key:     midiKey(pitch),
			vel:     vel,
			start:   start,
			stop:    start + length,
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

func (e *Engine) cancel(ids []int) {
	now := e.frame.Load()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		n, ok := e.notes[id]
		if !ok {
			continue
		}
		if !n.on {
			delete(e.notes, id)
			continue
		}
		if n.stop > now {
			n.stop = now
		}
	}
}

// Pending returns how many notes are scheduled or sounding.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.notes)
}

// SetMasterGain scales the rendered output.
func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

// Process renders interleaved stereo frames into dst, firing note events on
// their exact frame.
func (e *Engine) Process(dst []float32) {
	frames := len(dst) / 2
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.synth == nil {
		for i := range dst {
			dst[i] = 0
		}
		e.frame.Add(int64(frames))
		return
	}
	if cap(e.left) < frames {
		e.left = make([]float32, frames)
		e.right = make([]float32, frames)
	}
	gain := float32(math.Float64frombits(atomic.LoadUint64(&e.masterGain)))
	done := 0
	for done < frames {
		frame := e.frame.Load()
		e.fire(frame)
		n := frames - done
		if next, ok := e.nextBoundary(frame); ok && next-frame < int64(n) {
			n = int(next - frame)
		}
		left, right := e.left[:n], e.right[:n]
		e.synth.Render(left, right)
		for i := 0; i < n; i++ {
			dst[2*(done+i)] = left[i] * gain
			dst[2*(done+i)+1] = right[i] * gain
		}
		done += n
		e.frame.Add(int64(n))
	}
}

// fire sends due NoteOffs before due NoteOns so a retriggered key survives.
func (e *Engine) fire(frame int64) {
	for id, n := range e.notes {
		if n.on && n.stop <= frame {
			e.synth.NoteOff(n.channel, n.key)
			delete(e.notes, id)
		}
	}
	for _, n := range e.notes {
		if !n.on && n.start <= frame {
			e.synth.NoteOn(n.channel, n.key, n.vel)
			n.on = true
		}
	}
}

// nextBoundary returns the earliest future frame at which a note changes.
func (e *Engine) nextBoundary(frame int64) (int64, bool) {
	var next int64
	found := false
	for _, n := range e.notes {
		at := n.start
		if n.on {
			at = n.stop
		}
		if at > frame && (!found || at < next) {
			next, found = at, true
		}
	}
	return next, found
}

func midiKey(pitch float64) int32 {
	k := int32(math.Round(pitch))
	if k < 0 {
		return 0
	}
	if k > 127 {
		return 127
	}
	return k
}
