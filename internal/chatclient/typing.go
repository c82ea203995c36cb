package chatclient

import (
	"sync"
	"time"
)

// TypingIndicator is the soft "counterpart is typing" flag. It turns off on a
// stop signal, on a new AI message, or after maxDisplay.
type TypingIndicator struct {
	mu         sync.Mutex
	on         bool
	timer      *time.Timer
	gen        uint64
	maxDisplay time.Duration
	onChange   func(bool)
}

// NewTypingIndicator creates an indicator. onChange may be nil.
func NewTypingIndicator(maxDisplay time.Duration, onChange func(bool)) *TypingIndicator {
	return &TypingIndicator{maxDisplay: maxDisplay, onChange: onChange}
}

// Set applies a typing signal.
func (t *TypingIndicator) Set(isTyping bool) {
	t.mu.Lock()
	changed := t.applyLocked(isTyping)
	t.mu.Unlock()
	t.notify(changed, isTyping)
}

// expire clears the indicator if no signal arrived since generation gen.
func (t *TypingIndicator) expire(gen uint64) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	changed := t.applyLocked(false)
	t.mu.Unlock()
	t.notify(changed, false)
}

// applyLocked starts a new generation, so a timer armed by an earlier signal
// can no longer clear the indicator.
func (t *TypingIndicator) applyLocked(isTyping bool) bool {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if isTyping && t.maxDisplay > 0 {
		gen := t.gen
		t.timer = time.AfterFunc(t.maxDisplay, func() { t.expire(gen) })
	}
	changed := t.on != isTyping
	t.on = isTyping
	return changed
}

func (t *TypingIndicator) notify(changed, isTyping bool) {
	if changed && t.onChange != nil {
		t.onChange(isTyping)
	}
}

// Clear turns the indicator off.
func (t *TypingIndicator) Clear() { t.Set(false) }

// On reports whether the indicator is showing.
func (t *TypingIndicator) On() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on
}
