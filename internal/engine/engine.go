package engine

import (
	"log/slog"
	"math"
	"sync/atomic"
)

// DefaultMaxGain is the gain ceiling applied until SetMaxGain is called.
const DefaultMaxGain = 0.75

// DrumDuration is the fixed length in seconds of a percussive hit.
const DrumDuration = 1.0

// Channel identifies a playback slot. Instrument channels and drum channels
// are separate namespaces.
type Channel int

// Instrument is a resolved, playable handle produced by a loader. Synths
// type-assert to their own concrete handle.
type Instrument interface {
	Name() string
}

// Voice is a scheduled or sounding synthesis event.
type Voice interface {
	// Cancel stops the voice. Calling it after the voice ended, or twice, is a no-op.
	Cancel()
}

// Synth is the sample playback engine together with its clock.
type Synth interface {
	// Now returns the current reading of the engine clock in seconds.
	Now() float64
	// Queue schedules pitches at absolute engine time when. It returns nil
	// when nothing was scheduled.
	Queue(inst Instrument, when float64, pitches []float64, duration float64, gain float64) Voice
}

// Resolver looks up the handles bound to channels.
type Resolver interface {
	Instrument(ch Channel) (Instrument, bool)
	Drum(ch Channel) (Instrument, float64, bool)
}

// Adapter turns channel-level play requests into Synth calls. It applies the
// gain ceiling and converts offsets relative to now into absolute times.
type Adapter struct {
	synth    Synth
	resolver Resolver
	log      *slog.Logger
	maxGain  uint64
}

// NewAdapter creates an adapter with the default gain ceiling.
func NewAdapter(synth Synth, resolver Resolver, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		synth:    synth,
		resolver: resolver,
		log:      log,
		maxGain:  math.Float64bits(DefaultMaxGain),
	}
}

// SetMaxGain sets the gain ceiling, clamped to [0, 1].
func (a *Adapter) SetMaxGain(gain float64) {
	if math.IsNaN(gain) {
		return
	}
	atomic.StoreUint64(&a.maxGain, math.Float64bits(clamp(gain, 0, 1)))
}

// MaxGain returns the current gain ceiling.
func (a *Adapter) MaxGain() float64 {
	return math.Float64frombits(atomic.LoadUint64(&a.maxGain))
}

// EffectiveGain returns the gain that would reach the synth and whether the
// request plays at all. Non-positive gain is a rest.
func (a *Adapter) EffectiveGain(gain float64) (float64, bool) {
	if !(gain > 0) {
		return 0, false
	}
	return math.Min(gain, a.MaxGain()), true
}

// ScheduleNote plays one pitch on an instrument channel, offset seconds from now.
func (a *Adapter) ScheduleNote(ch Channel, offset float64, pitch float64, duration float64, gain float64) Voice {
	return a.ScheduleChord(ch, offset, []float64{pitch}, duration, gain)
}

// ScheduleChord plays several pitches together on an instrument channel.
func (a *Adapter) ScheduleChord(ch Channel, offset float64, pitches []float64, duration float64, gain float64) Voice {
	g, ok := a.EffectiveGain(gain)
	if !ok || len(pitches) == 0 {
		return nil
	}
	inst, ok := a.resolver.Instrument(ch)
	if !ok {
		a.log.Debug("instrument channel not ready", "channel", int(ch))
		return nil
	}
	return a.synth.Queue(inst, a.synth.Now()+offset, pitches, duration, g)
}

// ScheduleDrum plays the drum bound to ch. The pitch comes from the drum
// binding and the duration is DrumDuration.
func (a *Adapter) ScheduleDrum(ch Channel, offset float64, gain float64) Voice {
	g, ok := a.EffectiveGain(gain)
	if !ok {
		return nil
	}
	inst, pitch, ok := a.resolver.Drum(ch)
	if !ok {
		a.log.Debug("drum channel not ready", "channel", int(ch))
		return nil
	}
	return a.synth.Queue(inst, a.synth.Now()+offset, []float64{pitch}, DrumDuration, g)
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
