package wavetable

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"

	"github.com/cbegin/sonify-go/internal/engine"
)

const tableSize = 256

// Patch is a single-cycle waveform plus its envelope. It is the instrument
// handle the wavetable engine plays.
type Patch struct {
	name  string
	table []float64

	AttackSec    float64
	DecaySec     float64
	SustainLvl   float64 // 0 makes the patch percussive
	ReleaseSec   float64
	VibratoDepth float64 // semitones
	VibratoRate  float64 // Hz
	PitchDrop    float64 // semitones per second
}

func (p *Patch) Name() string { return p.name }

// NewPatch copies samples into a patch with a plain organ-like envelope.
func NewPatch(name string, samples []float64) *Patch {
	cp := make([]float64, len(samples))
	copy(cp, samples)
	return &Patch{
		name:       name,
		table:      cp,
		AttackSec:  0.005,
		DecaySec:   0.12,
		SustainLvl: 0.75,
		ReleaseSec: 0.2,
	}
}

// ParseWAVB converts a hex string (pairs of hex digits representing signed 8-bit
// values) into a slice of float64 samples normalized to the range [-1, 1].
func ParseWAVB(h string) ([]float64, error) {
	data, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("decode wavetable: %w", err)
	}
	out := make([]float64, len(data))
	for i, b := range data {
		out[i] = float64(int8(b)) / 127.0
	}
	return out, nil
}

// harmonics builds one normalized cycle from partial amplitudes, the first
// entry being the fundamental.
func harmonics(amps ...float64) []float64 {
	out := make([]float64, tableSize)
	var peak float64
	for i := range out {
		x := twoPi * float64(i) / tableSize
		var s float64
		for h, a := range amps {
			s += a * math.Sin(float64(h+1)*x)
		}
		out[i] = s
		peak = math.Max(peak, math.Abs(s))
	}
	if peak > 0 {
		for i := range out {
			out[i] /= peak
		}
	}
	return out
}

// noise is a long random table; played at any pitch it reads as noise.
func noise(seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, 4096)
	for i := range out {
		out[i] = r.Float64()*2 - 1
	}
	return out
}

// families maps GM program groups (program/8) to a timbre.
var families = [16]struct {
	name    string
	amps    []float64
	attack  float64
	decay   float64
	sustain float64
	release float64
	vibrato float64
}{
	{"piano", []float64{1, 0.5, 0.25, 0.12, 0.06}, 0.002, 0.9, 0, 0.3, 0},
	{"chromatic", []float64{1, 0, 0.3, 0, 0.15}, 0.001, 0.6, 0, 0.4, 0},
	{"organ", []float64{1, 0.7, 0.5, 0.3, 0.2, 0.1}, 0.01, 0.05, 0.9, 0.08, 0},
	{"guitar", []float64{1, 0.6, 0.4, 0.3, 0.2, 0.1, 0.05}, 0.002, 1.2, 0, 0.25, 0},
	{"bass", []float64{1, 0.4, 0.1}, 0.004, 0.5, 0.4, 0.15, 0},
	{"strings", []float64{1, 0.5, 1.0 / 3, 0.25, 0.2, 1.0 / 6}, 0.08, 0.2, 0.8, 0.35, 0.15},
	{"ensemble", []float64{1, 0.45, 0.3, 0.2}, 0.12, 0.3, 0.8, 0.5, 0.1},
	{"brass", []float64{1, 0.8, 0.6, 0.4, 0.3}, 0.03, 0.15, 0.7, 0.2, 0.05},
	{"reed", []float64{1, 0, 0.6, 0, 0.3, 0, 0.15}, 0.02, 0.1, 0.8, 0.15, 0.08},
	{"pipe", []float64{1, 0.1, 0.05}, 0.04, 0.1, 0.85, 0.2, 0.1},
	{"lead", []float64{1, 0.5, 1.0 / 3, 0.25, 0.2, 1.0 / 6, 1.0 / 7}, 0.005, 0.1, 0.8, 0.1, 0},
	{"pad", []float64{1, 0.3, 0.2, 0.1}, 0.3, 0.5, 0.8, 0.8, 0.2},
	{"fx", []float64{1, 0, 0, 0.5, 0, 0.25}, 0.1, 0.4, 0.6, 0.6, 0.3},
	{"ethnic", []float64{1, 0.7, 0.1, 0.4}, 0.002, 0.8, 0, 0.3, 0},
	{"percussive", []float64{1, 0.2, 0.6}, 0.001, 0.3, 0, 0.1, 0},
	{"sfx", []float64{1, 0.9, 0.8, 0.7}, 0.01, 0.3, 0.5, 0.3, 0.5},
}

type drumKind int

const (
	drumKick drumKind = iota
	drumSnare
	drumHat
	drumTom
	drumCymbal
	drumBlock
)

// drumKinds maps GM percussion keys to a synthesis recipe.
var drumKinds = map[int]drumKind{
	35: drumKick, 36: drumKick,
	37: drumBlock, 38: drumSnare, 39: drumSnare, 40: drumSnare,
	41: drumTom, 43: drumTom, 45: drumTom, 47: drumTom, 48: drumTom, 50: drumTom,
	42: drumHat, 44: drumHat, 46: drumHat,
	49: drumCymbal, 51: drumCymbal, 52: drumCymbal, 53: drumCymbal,
	55: drumCymbal, 57: drumCymbal, 59: drumCymbal,
}

// Loader builds patches for GM program numbers and percussion keys without
// any external assets. Tables overrides the waveform of individual programs.
type Loader struct {
	Tables map[int][]float64
}

func (l Loader) LoadInstrument(ctx context.Context, patch int) (engine.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if patch < 0 || patch > 127 {
		return nil, fmt.Errorf("patch %d out of range 0-127", patch)
	}
	f := families[patch/8]
	table := l.Tables[patch]
	if len(table) == 0 {
		table = harmonics(f.amps...)
	}
	p := NewPatch(fmt.Sprintf("%s-%d", f.name, patch), table)
	p.AttackSec = f.attack
	p.DecaySec = f.decay
	p.SustainLvl = f.sustain
	p.ReleaseSec = f.release
	if f.vibrato > 0 {
		p.VibratoDepth = f.vibrato
		p.VibratoRate = 5.5
	}
	return p, nil
}

// LoadDrum resolves a GM percussion key (35-81). Every hit plays at the key's pitch.
func (Loader) LoadDrum(ctx context.Context, drum int) (engine.Instrument, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if drum < 35 || drum > 81 {
		return nil, 0, fmt.Errorf("drum %d out of range 35-81", drum)
	}
	kind, ok := drumKinds[drum]
	if !ok {
		kind = drumBlock
	}
	name := fmt.Sprintf("drum-%d", drum)
	var p *Patch
	switch kind {
	case drumKick:
		p = NewPatch(name, harmonics(1))
		p.DecaySec, p.PitchDrop = 0.35, 24
	case drumSnare:
		p = NewPatch(name, noise(int64(drum)))
		p.DecaySec = 0.18
	case drumHat:
		p = NewPatch(name, noise(int64(drum)))
		p.DecaySec = 0.06
		if drum == 46 {
			p.DecaySec = 0.3
		}
	case drumTom:
		p = NewPatch(name, harmonics(1, 0.2))
		p.DecaySec, p.PitchDrop = 0.4, 6
	case drumCymbal:
		p = NewPatch(name, noise(int64(drum)))
		p.DecaySec = 1.2
	default:
		p = NewPatch(name, harmonics(1, 0, 0.5))
		p.DecaySec = 0.08
	}
	p.AttackSec = 0.001
	p.SustainLvl = 0
	p.ReleaseSec = 0.05
	return p, float64(drum), nil
}
