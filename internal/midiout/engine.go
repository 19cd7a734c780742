package midiout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cbegin/sonify-go/internal/engine"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// DrumChannel is the General MIDI percussion channel.
const DrumChannel = 9

// ErrNoFreeChannel is returned when all fifteen melodic MIDI channels hold a program.
var ErrNoFreeChannel = errors.New("no free MIDI channel")

// Program is a patch bound to one channel of the output port.
type Program struct {
	name    string
	channel uint8
}

func (p *Program) Name() string { return p.name }

// Engine drives an external MIDI device. Notes are timed on the wall clock;
// Now is the time since the port was opened.
type Engine struct {
	send  func(gomidi.Message) error
	log   *slog.Logger
	start time.Time

	mu       sync.Mutex
	programs map[int]*Program
	next     uint8
	timers   map[*time.Timer]struct{}
}

// Open connects to the output port whose name contains portName. A MIDI
// driver must be registered by the caller, e.g. rtmididrv.
func Open(portName string, log *slog.Logger) (*Engine, error) {
	out, err := gomidi.FindOutPort(portName)
	if err != nil {
		return nil, fmt.Errorf("cannot find MIDI out port %q: %w", portName, err)
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("cannot open MIDI out port %q: %w", portName, err)
	}
	return NewWithSender(send, log), nil
}

// NewWithSender builds an engine around an already opened sender.
func NewWithSender(send func(gomidi.Message) error, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		send:     send,
		log:      log,
		start:    time.Now(),
		programs: make(map[int]*Program),
		timers:   make(map[*time.Timer]struct{}),
	}
}

func (e *Engine) Now() float64 {
	return time.Since(e.start).Seconds()
}

func (e *Engine) Owns(inst engine.Instrument) bool {
	_, ok := inst.(*Program)
	return ok
}

func (e *Engine) emit(msg gomidi.Message) {
	if err := e.send(msg); err != nil {
		e.log.Debug("midi send failed", "msg", msg.String(), "err", err)
	}
}

// after runs f once d has elapsed and forgets the timer afterwards.
func (e *Engine) after(d time.Duration, f func()) *time.Timer {
	e.mu.Lock()
	defer e.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.timers, t)
		e.mu.Unlock()
		f()
	})
	e.timers[t] = struct{}{}
	return t
}

// Queue sends NoteOn at when and NoteOff duration seconds later for each pitch.
func (e *Engine) Queue(inst engine.Instrument, when float64, pitches []float64, duration float64, gain float64) engine.Voice {
	p, ok := inst.(*Program)
	if !ok || len(pitches) == 0 || !(gain > 0) {
		return nil
	}
	vel := uint8(math.Max(1, math.Min(127, math.Round(gain*127))))
	keys := make([]uint8, len(pitches))
	for i, pitch := range pitches {
		keys[i] = uint8(math.Max(0, math.Min(127, math.Round(pitch))))
	}
	delay := seconds(when - e.Now())
	v := &voice{e: e, channel: p.channel, keys: keys}
	// Hold the voice lock so neither callback runs before both timers exist.
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onTimer = e.after(delay, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.cancelled {
			return
		}
		for _, k := range keys {
			e.emit(gomidi.NoteOn(p.channel, k, vel))
		}
		v.sounding = true
	})
	v.offTimer = e.after(delay+seconds(duration), v.Cancel)
	return v
}

type voice struct {
	e        *Engine
	channel  uint8
	keys     []uint8
	onTimer  *time.Timer
	offTimer *time.Timer

	mu        sync.Mutex
	sounding  bool
	cancelled bool
}

func (v *voice) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancelled {
		return
	}
	v.cancelled = true
	v.onTimer.Stop()
	v.offTimer.Stop()
	if v.sounding {
		for _, k := range v.keys {
			v.e.emit(gomidi.NoteOff(v.channel, k))
		}
	}
}

// bind sends a program change on the next free channel.
func (e *Engine) bind(patch int) (*Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.programs[patch]; ok {
		return p, nil
	}
	if e.next == DrumChannel {
		e.next++
	}
	if e.next > 15 {
		return nil, ErrNoFreeChannel
	}
	p := &Program{name: fmt.Sprintf("program-%d", patch), channel: e.next}
	if err := e.send(gomidi.ProgramChange(p.channel, uint8(patch))); err != nil {
		return nil, fmt.Errorf("program change %d: %w", patch, err)
	}
	e.next++
	e.programs[patch] = p
	return p, nil
}

// Close stops pending timers. Notes already sounding are released.
func (e *Engine) Close() error {
	e.mu.Lock()
	timers := make([]*time.Timer, 0, len(e.timers))
	for t := range e.timers {
		timers = append(timers, t)
	}
	e.timers = make(map[*time.Timer]struct{})
	channels := make([]uint8, 0, len(e.programs)+1)
	for _, p := range e.programs {
		channels = append(channels, p.channel)
	}
	e.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
	// All Notes Off on every channel we touched.
	for _, ch := range append(channels, DrumChannel) {
		e.emit(gomidi.ControlChange(ch, 123, 0))
	}
	return nil
}

// Loader resolves patches by program change and drums to the percussion channel.
type Loader struct {
	Engine *Engine
}

func (l Loader) LoadInstrument(ctx context.Context, patch int) (engine.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if patch < 0 || patch > 127 {
		return nil, fmt.Errorf("patch %d out of range 0-127", patch)
	}
	p, err := l.Engine.bind(patch)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l Loader) LoadDrum(ctx context.Context, drum int) (engine.Instrument, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if drum < 0 || drum > 127 {
		return nil, 0, fmt.Errorf("drum %d out of range 0-127", drum)
	}
	return &Program{name: fmt.Sprintf("drum-%d", drum), channel: DrumChannel}, float64(drum), nil
}

func seconds(s float64) time.Duration {
	if !(s > 0) {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
