package soundfont

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cbegin/sonify-go/internal/engine"
)

// ErrNoFreeChannel is returned when all fifteen melodic MIDI channels hold a program.
var ErrNoFreeChannel = errors.New("no free MIDI channel")

// Loader binds General MIDI programs to synthesizer channels. Each distinct
// program gets its own channel; channel 9 is left to percussion.
type Loader struct {
	eng *Engine

	mu       sync.Mutex
	programs map[int]*Preset
	next     int32
}

func NewLoader(eng *Engine) *Loader {
	return &Loader{eng: eng, programs: make(map[int]*Preset)}
}

func (l *Loader) LoadInstrument(ctx context.Context, patch int) (engine.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if patch < 0 || patch > 127 {
		return nil, fmt.Errorf("patch %d out of range 0-127", patch)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.programs[patch]; ok {
		return p, nil
	}
	if l.next == DrumChannel {
		l.next++
	}
	if l.next > 15 {
		return nil, ErrNoFreeChannel
	}
	p := &Preset{name: fmt.Sprintf("program-%d", patch), channel: l.next, program: int32(patch)}
	if err := l.eng.programChange(p.channel, p.program); err != nil {
		return nil, err
	}
	l.next++
	l.programs[patch] = p
	return p, nil
}

// LoadDrum returns the percussion channel preset; the drum key is the pitch.
func (l *Loader) LoadDrum(ctx context.Context, drum int) (engine.Instrument, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if drum < 0 || drum > 127 {
		return nil, 0, fmt.Errorf("drum %d out of range 0-127", drum)
	}
	if err := l.eng.load(); err != nil {
		return nil, 0, err
	}
	return &Preset{name: fmt.Sprintf("drum-%d", drum), channel: DrumChannel}, float64(drum), nil
}
