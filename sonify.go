package sonify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	intaudio "github.com/cbegin/sonify-go/internal/audio"
	"github.com/cbegin/sonify-go/internal/engine"
	"github.com/cbegin/sonify-go/internal/midiout"
	"github.com/cbegin/sonify-go/internal/registry"
	intseq "github.com/cbegin/sonify-go/internal/sequencer"
	"github.com/cbegin/sonify-go/internal/soundfont"
	"github.com/cbegin/sonify-go/internal/voice"
	intwt "github.com/cbegin/sonify-go/internal/wavetable"
)

// Channel is a logical playback slot. Instrument and drum channels are
// numbered independently.
type Channel = engine.Channel

// Voice is a handle to a scheduled or sounding note.
type Voice = engine.Voice

// MelodySustain is how long, in seconds, a melodic voice holds before it is
// replaced or stopped.
const MelodySustain = 3600.0

type EngineKind string

const (
	EngineWavetable EngineKind = "wavetable"
	EngineSoundFont EngineKind = "soundfont"
	EngineMIDI      EngineKind = "midi"
)

type OutputKind string

const (
	OutputEbiten OutputKind = "ebiten"
	OutputOto    OutputKind = "oto"
	OutputNone   OutputKind = "none"
)

var (
	ErrUnknownEngine = errors.New("unknown engine")
	ErrUnknownOutput = errors.New("unknown output")
)

type Option func(*sessionConfig)

type sessionConfig struct {
	engine     EngineKind
	drumEngine EngineKind
	output     OutputKind
	soundFont  string
	midiPort   string
	wavetables map[int][]float64
	log        *slog.Logger
	scheduler  intseq.Scheduler
	synth      engine.Synth
	loader     registry.Loader
	tempo      float64
	maxGain    float64
	hasMaxGain bool
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		engine: EngineWavetable,
		output: OutputEbiten,
		log:    slog.New(slog.DiscardHandler),
	}
}

// WithEngine selects the backend for melodic instruments (and drums, unless
// WithDrumEngine picks another).
func WithEngine(kind EngineKind) Option {
	return func(cfg *sessionConfig) {
		cfg.engine = kind
	}
}

// WithDrumEngine plays drum channels on a different backend than instruments.
func WithDrumEngine(kind EngineKind) Option {
	return func(cfg *sessionConfig) {
		cfg.drumEngine = kind
	}
}

func WithOutput(kind OutputKind) Option {
	return func(cfg *sessionConfig) {
		cfg.output = kind
	}
}

// WithSoundFont sets the .sf2 file used by EngineSoundFont.
func WithSoundFont(path string) Option {
	return func(cfg *sessionConfig) {
		cfg.soundFont = path
	}
}

// WithMIDIPort sets the output port name used by EngineMIDI. A driver such as
// rtmididrv must be imported by the program.
func WithMIDIPort(name string) Option {
	return func(cfg *sessionConfig) {
		cfg.midiPort = name
	}
}

// WithWavetables overrides the single-cycle waveform of GM programs on the
// wavetable engine.
func WithWavetables(tables map[int][]float64) Option {
	return func(cfg *sessionConfig) {
		cfg.wavetables = tables
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(cfg *sessionConfig) {
		if log != nil {
			cfg.log = log
		}
	}
}

// WithScheduler replaces the timer the dispatch loop re-arms itself with.
func WithScheduler(s intseq.Scheduler) Option {
	return func(cfg *sessionConfig) {
		cfg.scheduler = s
	}
}

// WithSynth plugs in a custom engine and loader, bypassing WithEngine.
func WithSynth(synth engine.Synth, loader registry.Loader) Option {
	return func(cfg *sessionConfig) {
		cfg.synth = synth
		cfg.loader = loader
	}
}

// WithTempo sets the initial tempo in percent.
func WithTempo(percent float64) Option {
	return func(cfg *sessionConfig) {
		cfg.tempo = percent
	}
}

func WithMaxGain(gain float64) Option {
	return func(cfg *sessionConfig) {
		cfg.maxGain = gain
		cfg.hasMaxGain = true
	}
}

// Session owns every piece of playback state: tempo, gain ceiling, channel
// bindings, the event queue and the melodic voice table.
type Session struct {
	sampleRate int
	log        *slog.Logger
	synth      engine.Synth
	source     intaudio.SampleSource
	outputKind OutputKind
	adapter    *engine.Adapter
	registry   *registry.Registry
	melodizer  *intseq.Melodizer
	voices     *voice.Table
	closers    []func() error

	mu      sync.Mutex
	out     intaudio.Output
	started bool
	closed  bool
}

// NewSession builds the engine, registry and dispatch loop. Nothing plays
// until Start.
func NewSession(sampleRate int, opts ...Option) (*Session, error) {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newSession(sampleRate, cfg)
}

func newSession(sampleRate int, cfg sessionConfig) (*Session, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	switch cfg.output {
	case OutputEbiten, OutputOto, OutputNone:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOutput, cfg.output)
	}
	s := &Session{
		sampleRate: sampleRate,
		log:        cfg.log,
		outputKind: cfg.output,
		voices:     voice.NewTable(),
	}
	synth, loader, renders, err := s.buildBackends(cfg)
	if err != nil {
		s.runClosers()
		return nil, err
	}
	s.synth = synth
	if src, ok := synth.(intaudio.SampleSource); ok && renders {
		s.source = src
	}
	s.registry = registry.New(loader, cfg.log.With("component", "registry"))
	s.adapter = engine.NewAdapter(synth, s.registry, cfg.log.With("component", "engine"))
	if cfg.hasMaxGain {
		s.adapter.SetMaxGain(cfg.maxGain)
	}
	s.melodizer = intseq.New(s.adapter, cfg.scheduler, cfg.log.With("component", "melodizer"))
	if cfg.tempo != 0 {
		s.melodizer.SetTempo(cfg.tempo)
	}
	return s, nil
}

func (s *Session) buildBackends(cfg sessionConfig) (engine.Synth, registry.Loader, bool, error) {
	if cfg.synth != nil {
		if cfg.loader == nil {
			return nil, nil, false, errors.New("custom synth needs a loader")
		}
		_, renders := cfg.synth.(intaudio.SampleSource)
		return cfg.synth, cfg.loader, renders, nil
	}
	synth, loader, renders, err := s.backend(cfg.engine, cfg)
	if err != nil {
		return nil, nil, false, err
	}
	if cfg.drumEngine == "" || cfg.drumEngine == cfg.engine {
		return synth, loader, renders, nil
	}
	drumSynth, drumLoader, drumRenders, err := s.backend(cfg.drumEngine, cfg)
	if err != nil {
		return nil, nil, false, err
	}
	mux := engine.NewMux(synth, drumSynth)
	return mux, splitLoader{instruments: loader, drums: drumLoader}, renders || drumRenders, nil
}

func (s *Session) backend(kind EngineKind, cfg sessionConfig) (engine.Synth, registry.Loader, bool, error) {
	switch kind {
	case EngineWavetable:
		return intwt.New(s.sampleRate, intwt.DefaultParams()), intwt.Loader{Tables: cfg.wavetables}, true, nil
	case EngineSoundFont:
		if cfg.soundFont == "" {
			return nil, nil, false, errors.New("soundfont engine needs a soundfont path")
		}
		e, err := soundfont.New(cfg.soundFont, s.sampleRate)
		if err != nil {
			return nil, nil, false, err
		}
		return e, soundfont.NewLoader(e), true, nil
	case EngineMIDI:
		if cfg.midiPort == "" {
			return nil, nil, false, errors.New("midi engine needs a port name")
		}
		e, err := midiout.Open(cfg.midiPort, cfg.log.With("component", "midi"))
		if err != nil {
			return nil, nil, false, err
		}
		s.closers = append(s.closers, e.Close)
		return e, midiout.Loader{Engine: e}, false, nil
	default:
		return nil, nil, false, fmt.Errorf("%w %q", ErrUnknownEngine, kind)
	}
}

// splitLoader sends instrument and drum lookups to different backends.
type splitLoader struct {
	instruments registry.Loader
	drums       registry.Loader
}

func (l splitLoader) LoadInstrument(ctx context.Context, patch int) (engine.Instrument, error) {
	return l.instruments.LoadInstrument(ctx, patch)
}

func (l splitLoader) LoadDrum(ctx context.Context, drum int) (engine.Instrument, float64, error) {
	return l.drums.LoadDrum(ctx, drum)
}

// SetTempo sets the duration multiplier to percent/100.
func (s *Session) SetTempo(percent float64) { s.melodizer.SetTempo(percent) }

// Tempo returns the duration multiplier.
func (s *Session) Tempo() float64 { return s.melodizer.Tempo() }

// SetMaxGain sets the gain ceiling. Gains above it are clamped, never amplified.
func (s *Session) SetMaxGain(gain float64) { s.adapter.SetMaxGain(gain) }

func (s *Session) MaxGain() float64 { return s.adapter.MaxGain() }

// RegisterInstrument resolves patch for ch in the background. onReady runs
// once the channel can play.
func (s *Session) RegisterInstrument(ch Channel, patch int, onReady func(ch Channel, patch int)) {
	s.registry.RegisterInstrument(ch, patch, onReady)
}

// RegisterDrumKit resolves drum for drum channel ch in the background.
func (s *Session) RegisterDrumKit(ch Channel, drum int, onReady func(ch Channel, drum int)) {
	s.registry.RegisterDrumKit(ch, drum, onReady)
}

// RegisterDrumSet binds drum channel i to drums[i].
func (s *Session) RegisterDrumSet(drums []int, onReady func(ch Channel, drum int)) {
	s.registry.RegisterDrumSet(drums, onReady)
}

// WaitReady blocks until every registration started so far has finished.
func (s *Session) WaitReady(ctx context.Context) error {
	return s.registry.Wait(ctx)
}

// PlayNote plays pitch on ch, offset seconds from now, for dur seconds
// scaled by the tempo. It returns nil for a rest or an unbound channel.
func (s *Session) PlayNote(ch Channel, offset float64, pitch float64, dur float64, gain float64) Voice {
	return s.adapter.ScheduleNote(ch, offset, pitch, s.Tempo()*dur, gain)
}

// PlayChord plays pitches together, like PlayNote.
func (s *Session) PlayChord(ch Channel, offset float64, pitches []float64, dur float64, gain float64) Voice {
	return s.adapter.ScheduleChord(ch, offset, pitches, s.Tempo()*dur, gain)
}

// PlayDrum hits drum channel ch at its bound pitch.
func (s *Session) PlayDrum(ch Channel, offset float64, gain float64) Voice {
	return s.adapter.ScheduleDrum(ch, offset, gain)
}

// PlayMelody moves the sustained line on ch to pitch: the previous voice is
// cancelled, then a new one holds until replaced or stopped. A rest just
// silences the line.
func (s *Session) PlayMelody(ch Channel, pitch float64, gain float64) Voice {
	return s.voices.Retrigger(ch, func() engine.Voice {
		return s.adapter.ScheduleNote(ch, 0, pitch, MelodySustain, gain)
	})
}

// StopMelody silences the sustained line on ch.
func (s *Session) StopMelody(ch Channel) { s.voices.Release(ch) }

// AddNoteToQueue queues pitch for the dispatch loop. dur is in seconds.
func (s *Session) AddNoteToQueue(ch Channel, pitch float64, dur float64, gain float64) {
	s.melodizer.AddNote(ch, pitch, dur, gain)
}

// AddChordToQueue queues pitches to sound together.
func (s *Session) AddChordToQueue(ch Channel, pitches []float64, dur float64, gain float64) {
	s.melodizer.AddChord(ch, pitches, dur, gain)
}

// ClearQueue drops queued events that have not been dispatched yet.
func (s *Session) ClearQueue() int { return s.melodizer.Clear() }

// Pending returns the number of queued events.
func (s *Session) Pending() int { return s.melodizer.Pending() }

// Start opens the audio output, if the engine renders audio, and starts the
// dispatch loop. Calling it again does nothing.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	if s.started {
		return nil
	}
	if s.source != nil && s.outputKind != OutputNone {
		out, err := s.openOutput()
		if err != nil {
			return err
		}
		s.out = out
		s.out.Play()
	}
	s.started = true
	s.melodizer.Start()
	s.log.Info("session started", "sample_rate", s.sampleRate, "output", string(s.outputKind))
	return nil
}

func (s *Session) openOutput() (intaudio.Output, error) {
	switch s.outputKind {
	case OutputOto:
		return intaudio.NewOtoPlayer(s.sampleRate, s.source)
	default:
		return intaudio.NewEbitenPlayer(s.sampleRate, s.source)
	}
}

// Close stops the dispatch loop, silences melodic lines and releases the
// audio and MIDI devices.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	out := s.out
	s.out = nil
	s.mu.Unlock()

	s.melodizer.Stop()
	s.voices.ReleaseAll()
	s.registry.Close()
	var errs []error
	if out != nil {
		errs = append(errs, out.Close())
	}
	errs = append(errs, s.runClosers())
	return errors.Join(errs...)
}

func (s *Session) runClosers() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}
