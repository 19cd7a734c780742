package voice

import (
	"sync"

	"github.com/cbegin/sonify-go/internal/engine"
)

// Table tracks the sustained melodic voice of each channel. A channel holds
// at most one voice; a new trigger always cancels the previous one first.
type Table struct {
	mu     sync.Mutex
	voices map[engine.Channel]engine.Voice
}

func NewTable() *Table {
	return &Table{voices: make(map[engine.Channel]engine.Voice)}
}

// Retrigger cancels the voice held for ch, then calls start and stores what
// it returns. A nil result leaves the slot empty.
func (t *Table) Retrigger(ch engine.Channel, start func() engine.Voice) engine.Voice {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev := t.voices[ch]; prev != nil {
		prev.Cancel()
	}
	delete(t.voices, ch)
	v := start()
	if v != nil {
		t.voices[ch] = v
	}
	return v
}

// Release cancels and clears the voice held for ch.
func (t *Table) Release(ch engine.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev := t.voices[ch]; prev != nil {
		prev.Cancel()
	}
	delete(t.voices, ch)
}

// ReleaseAll cancels every held voice.
func (t *Table) ReleaseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch, v := range t.voices {
		v.Cancel()
		delete(t.voices, ch)
	}
}

// Active reports whether ch currently holds a voice.
func (t *Table) Active(ch engine.Channel) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.voices[ch] != nil
}
