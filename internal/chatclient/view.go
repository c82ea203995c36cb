package chatclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/amora/internal/domain"
)

// ScrollMode tells the renderer how to move the viewport after a render.
type ScrollMode int

const (
	ScrollNone ScrollMode = iota
	// ScrollInstant jumps to the bottom without animation.
	ScrollInstant
	// ScrollAnimated scrolls smoothly to the bottom.
	ScrollAnimated
)

// MessageSource returns the canonical list of a chat.
type MessageSource interface {
	ListMessages(ctx context.Context, chatID string) ([]domain.Message, error)
}

// Renderer draws the message list.
type Renderer interface {
	Render(chatID string, msgs []domain.Message, scroll ScrollMode)
}

// Alerts plays the arrival tone and raises notifications. Both are
// best-effort.
type Alerts interface {
	PlayTone()
	Notify(chatID string, msg domain.Message)
}

// View owns the rendered message list of one chat. Feed events and poll ticks
// both call Resync, which always rebuilds the list from the server.
type View struct {
	chatID   string
	src      MessageSource
	renderer Renderer
	alerts   Alerts
	focus    *Focus
	settings Settings
	typing   *TypingIndicator

	syncMu sync.Mutex
	closed atomic.Bool

	mu       sync.Mutex
	msgs     []domain.Message
	loaded   bool
	settled  bool
	renderID uint64
}

// NewView creates a view. alerts and typing may be nil.
func NewView(chatID string, src MessageSource, renderer Renderer, alerts Alerts, focus *Focus, settings Settings, typing *TypingIndicator) *View {
	if focus == nil {
		focus = NewFocus()
	}
	return &View{
		chatID:   chatID,
		src:      src,
		renderer: renderer,
		alerts:   alerts,
		focus:    focus,
		settings: settings,
		typing:   typing,
	}
}

// Resync fetches the full list and re-renders it. Concurrent calls are
// serialized; results arriving after Close are discarded.
func (v *View) Resync(ctx context.Context) error {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()
	if v.closed.Load() {
		return nil
	}

	fetched, err := v.src.ListMessages(ctx, v.chatID)
	if err != nil {
		slog.Debug("Resync failed", "chat_id", v.chatID, "error", err)
		return err
	}
	if v.closed.Load() {
		return nil
	}

	v.mu.Lock()

	next := normalizeMessages(fetched)
	prevLen := len(v.msgs)
	var arrivals []domain.Message
	if v.loaded {
		arrivals = newAIMessages(v.msgs, next)
	}

	scroll := ScrollNone
	switch {
	case !v.settled && len(next) > 0:
		scroll = ScrollInstant
		v.settled = true
	case v.settled && len(next) > prevLen:
		scroll = ScrollAnimated
	}

	v.msgs = next
	v.loaded = true
	v.renderID++
	v.mu.Unlock()

	if v.renderer != nil {
		v.renderer.Render(v.chatID, cloneMessages(next), scroll)
	}

	if len(arrivals) > 0 {
		if v.typing != nil {
			v.typing.Clear()
		}
		v.alert(arrivals[len(arrivals)-1])
	}
	return nil
}

func (v *View) alert(msg domain.Message) {
	if v.alerts == nil {
		return
	}
	if v.settings.SoundEnabled {
		v.alerts.PlayTone()
	}
	// The tone plays even for the chat in view; the notification does not.
	if v.settings.NotificationsEnabled && !v.focus.IsViewing(v.chatID) {
		v.alerts.Notify(v.chatID, msg)
	}
}

// Messages returns a copy of the rendered list.
func (v *View) Messages() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneMessages(v.msgs)
}

// Renders returns how many renders have happened.
func (v *View) Renders() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.renderID
}

// Close stops further renders. It does not wait for an in-flight fetch.
func (v *View) Close() {
	v.closed.Store(true)
}

// normalizeMessages removes duplicate ids, keeping the last copy, and sorts.
func normalizeMessages(in []domain.Message) []domain.Message {
	index := make(map[string]int, len(in))
	out := make([]domain.Message, 0, len(in))
	for _, m := range in {
		if i, ok := index[m.ID]; ok {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	domain.SortMessages(out)
	return out
}

// newAIMessages returns AI messages in next that were not in prev.
func newAIMessages(prev, next []domain.Message) []domain.Message {
	if len(next) <= len(prev) {
		return nil
	}
	seen := make(map[string]struct{}, len(prev))
	for _, m := range prev {
		seen[m.ID] = struct{}{}
	}
	var out []domain.Message
	for _, m := range next {
		if _, ok := seen[m.ID]; ok || m.SenderType != domain.SenderAI {
			continue
		}
		out = append(out, m)
	}
	return out
}

func cloneMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	copy(out, in)
	return out
}
