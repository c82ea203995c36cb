// Package chatclient implements the client half of chat delivery: a live
// feed with a polling fallback, a single resync path that rebuilds the
// rendered list, typing state and the outbound composer.
package chatclient

import (
	"sync"
	"time"
)

// Session identifies the signed-in user. It is created at startup and passed
// to every component that talks to the server.
type Session struct {
	BaseURL string
	Token   string
	UserID  string
}

// Settings are user preferences and timing knobs.
type Settings struct {
	SoundEnabled         bool
	NotificationsEnabled bool
	PollInterval         time.Duration
	LiveTimeout          time.Duration
	TypingMaxDisplay     time.Duration
}

// DefaultSettings returns the standard client settings.
func DefaultSettings() Settings {
	return Settings{
		SoundEnabled:         true,
		NotificationsEnabled: true,
		PollInterval:         3 * time.Second,
		LiveTimeout:          10 * time.Second,
		TypingMaxDisplay:     30 * time.Second,
	}
}

// Focus tracks which chat is open and whether the window has focus.
type Focus struct {
	mu       sync.RWMutex
	openChat string
	focused  bool
}

// NewFocus creates a focused window with no chat open.
func NewFocus() *Focus {
	return &Focus{focused: true}
}

// SetOpenChat records the chat currently on screen ("" for none).
func (f *Focus) SetOpenChat(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openChat = chatID
}

// SetFocused records window focus.
func (f *Focus) SetFocused(focused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = focused
}

// IsViewing reports whether chatID is open in a focused window.
func (f *Focus) IsViewing(chatID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.focused && chatID != "" && f.openChat == chatID
}
