package chatclient

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/amora/internal/realtime"
)

// API is what the controller needs from the server client.
type API interface {
	MessageSource
	Sender
	FeedURL(chatID string) string
}

// Controller mounts one chat at a time: its view, feed, poller and typing
// indicator. Opening another chat tears the previous one down.
type Controller struct {
	api      API
	settings Settings
	focus    *Focus
	renderer Renderer
	alerts   Alerts
	composer *Composer

	onFeedState func(FeedState)
	onTyping    func(bool)

	mu     sync.Mutex
	active *mounted
}

type mounted struct {
	chatID string
	view   *View
	feed   *Feed
	poller *Poller
	typing *TypingIndicator
	cancel context.CancelFunc
	done   chan struct{}
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Settings    Settings
	Focus       *Focus
	Renderer    Renderer
	Alerts      Alerts
	OnFeedState func(FeedState)
	OnTyping    func(bool)
}

// NewController creates a controller with no chat open.
func NewController(api API, opts ControllerOptions) *Controller {
	if opts.Focus == nil {
		opts.Focus = NewFocus()
	}
	return &Controller{
		api:         api,
		settings:    opts.Settings,
		focus:       opts.Focus,
		renderer:    opts.Renderer,
		alerts:      opts.Alerts,
		composer:    NewComposer(api),
		onFeedState: opts.OnFeedState,
		onTyping:    opts.OnTyping,
	}
}

// Composer returns the input composer bound to the open chat.
func (c *Controller) Composer() *Composer { return c.composer }

// Open mounts chatID. The poller runs until the feed reports live.
func (c *Controller) Open(ctx context.Context, chatID string) {
	c.Close()

	ctx, cancel := context.WithCancel(ctx)
	m := &mounted{chatID: chatID, cancel: cancel, done: make(chan struct{})}
	m.typing = NewTypingIndicator(c.settings.TypingMaxDisplay, c.onTyping)
	m.view = NewView(chatID, c.api, c.renderer, c.alerts, c.focus, c.settings, m.typing)

	resync := func(ctx context.Context) {
		if err := m.view.Resync(ctx); err != nil {
			slog.Debug("Resync error absorbed", "chat_id", chatID, "error", err)
		}
	}
	m.poller = NewPoller(c.settings.PollInterval, resync)
	m.feed = NewFeed(c.api.FeedURL(chatID), c.settings.LiveTimeout, FeedHandlers{
		OnState: func(s FeedState) {
			m.poller.SetFeedState(s)
			if c.onFeedState != nil {
				c.onFeedState(s)
			}
		},
		OnInsert: func(realtime.Event) { resync(ctx) },
		OnTyping: m.typing.Set,
	})

	c.mu.Lock()
	c.active = m
	c.mu.Unlock()
	c.focus.SetOpenChat(chatID)
	c.composer.SetChat(chatID)

	resync(ctx)
	m.poller.Start(ctx)
	go func() {
		defer close(m.done)
		m.feed.Run(ctx)
	}()
}

// View returns the open chat's view, or nil.
func (c *Controller) View() *View {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	return c.active.view
}

// FeedState returns the open chat's feed state.
func (c *Controller) FeedState() FeedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return FeedClosed
	}
	return c.active.feed.State()
}

// Close unmounts the open chat. In-flight fetches finish but are not rendered.
func (c *Controller) Close() {
	c.mu.Lock()
	m := c.active
	c.active = nil
	c.mu.Unlock()
	if m == nil {
		return
	}

	m.view.Close()
	m.feed.Close()
	m.cancel()
	m.poller.Stop()
	m.typing.Clear()
	<-m.done

	c.focus.SetOpenChat("")
	c.composer.SetChat("")
}
