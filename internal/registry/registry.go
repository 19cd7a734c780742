package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cbegin/sonify-go/internal/engine"
)

// ErrNoHandle is reported when a loader returns neither a handle nor an error.
var ErrNoHandle = errors.New("loader returned no handle")

// Loader resolves logical ids to playable handles. Implementations may block
// on I/O; the registry always calls them off the caller's goroutine.
type Loader interface {
	LoadInstrument(ctx context.Context, patch int) (engine.Instrument, error)
	// LoadDrum returns the handle and the pitch every hit on it plays at.
	LoadDrum(ctx context.Context, drum int) (engine.Instrument, float64, error)
}

// ReadyFunc is called once a channel's handle is installed.
type ReadyFunc func(ch engine.Channel, id int)

type drumEntry struct {
	inst  engine.Instrument
	pitch float64
}

// Registry holds the instrument and drum bindings per channel. Registrations
// resolve asynchronously and each only writes its own channel's slot.
type Registry struct {
	loader Loader
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	instruments map[engine.Channel]engine.Instrument
	drums       map[engine.Channel]drumEntry

	inflight sync.WaitGroup
}

// New creates a registry resolving through loader.
func New(loader Loader, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		loader:      loader,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		instruments: make(map[engine.Channel]engine.Instrument),
		drums:       make(map[engine.Channel]drumEntry),
	}
}

// RegisterInstrument starts resolving patch for ch and returns immediately.
// onReady may be nil. A failed load leaves the channel unbound and onReady
// uncalled.
func (r *Registry) RegisterInstrument(ch engine.Channel, patch int, onReady ReadyFunc) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		inst, err := r.loader.LoadInstrument(r.ctx, patch)
		if err == nil && inst == nil {
			err = ErrNoHandle
		}
		if err != nil {
			r.log.Warn("instrument load failed", "channel", int(ch), "patch", patch, "err", err)
			return
		}
		r.mu.Lock()
		r.instruments[ch] = inst
		r.mu.Unlock()
		r.log.Info("instrument ready", "channel", int(ch), "patch", patch, "name", inst.Name())
		if onReady != nil {
			onReady(ch, patch)
		}
	}()
}

// RegisterDrumKit starts resolving drum for drum channel ch.
func (r *Registry) RegisterDrumKit(ch engine.Channel, drum int, onReady ReadyFunc) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		inst, pitch, err := r.loader.LoadDrum(r.ctx, drum)
		if err == nil && inst == nil {
			err = ErrNoHandle
		}
		if err != nil {
			r.log.Warn("drum load failed", "channel", int(ch), "drum", drum, "err", err)
			return
		}
		r.mu.Lock()
		r.drums[ch] = drumEntry{inst: inst, pitch: pitch}
		r.mu.Unlock()
		r.log.Info("drum ready", "channel", int(ch), "drum", drum, "name", inst.Name())
		if onReady != nil {
			onReady(ch, drum)
		}
	}()
}

// RegisterDrumSet binds drum channel i to drums[i] for every entry.
func (r *Registry) RegisterDrumSet(drums []int, onReady ReadyFunc) {
	for i, d := range drums {
		r.RegisterDrumKit(engine.Channel(i), d, onReady)
	}
}

// Wait blocks until every registration started so far has finished, or ctx
// is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels loads still in flight.
func (r *Registry) Close() {
	r.cancel()
}

// Instrument returns the handle bound to ch.
func (r *Registry) Instrument(ch engine.Channel) (engine.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[ch]
	return inst, ok
}

// Drum returns the handle and pitch bound to drum channel ch.
func (r *Registry) Drum(ch engine.Channel) (engine.Instrument, float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drums[ch]
	return d.inst, d.pitch, ok
}

// Channels returns how many instrument and drum channels are bound.
func (r *Registry) Channels() (instruments int, drums int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments), len(r.drums)
}
