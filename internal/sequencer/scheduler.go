package sequencer

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending deferred callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The dispatch loop re-arms itself through it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

// SystemScheduler schedules on the runtime timer wheel.
func SystemScheduler() Scheduler { return systemScheduler{} }

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// VirtualScheduler runs callbacks against a manually advanced clock. It is
// used for offline rendering and for tests that need exact timing.
type VirtualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*virtualTimer
	delays  []time.Duration
}

type virtualTimer struct {
	s   *VirtualScheduler
	at  time.Duration
	seq int
	f   func()
}

func (t *virtualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, p := range t.s.pending {
		if p == t {
			t.s.pending = append(t.s.pending[:i], t.s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// NewVirtualScheduler creates a scheduler whose clock starts at zero.
func NewVirtualScheduler() *VirtualScheduler {
	return &VirtualScheduler{}
}

func (s *VirtualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &virtualTimer{s: s, at: s.now + d, seq: s.seq, f: f}
	s.seq++
	s.pending = append(s.pending, t)
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].at != s.pending[j].at {
			return s.pending[i].at < s.pending[j].at
		}
		return s.pending[i].seq < s.pending[j].seq
	})
	s.delays = append(s.delays, d)
	return t
}

// Now returns the virtual clock reading.
func (s *VirtualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Next returns the time until the earliest pending callback.
func (s *VirtualScheduler) Next() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0, false
	}
	return s.pending[0].at - s.now, true
}

// Delays returns every delay passed to AfterFunc so far, in call order.
func (s *VirtualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// Advance moves the clock forward by d, running every callback that falls
// due in order. Callbacks scheduled while advancing run too if they land
// inside the window.
func (s *VirtualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	end := s.now + d
	s.mu.Unlock()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.pending[0].at > end {
			s.now = end
			s.mu.Unlock()
			return
		}
		t := s.pending[0]
		s.pending = s.pending[1:]
		s.now = t.at
		s.mu.Unlock()
		t.f()
	}
}

// RunNext advances to the earliest pending callback and runs it.
func (s *VirtualScheduler) RunNext() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	s.now = t.at
	s.mu.Unlock()
	t.f()
	return true
}
