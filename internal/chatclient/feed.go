package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/amora/internal/realtime"
	"github.com/coder/websocket"
)

// FeedState is the connection state of a chat feed.
type FeedState string

const (
	FeedConnecting FeedState = "connecting"
	FeedLive       FeedState = "live"
	FeedError      FeedState = "error"
	FeedTimedOut   FeedState = "timed_out"
	FeedClosed     FeedState = "closed"
)

// FeedHandlers receive feed callbacks. Any field may be nil.
type FeedHandlers struct {
	OnState  func(FeedState)
	OnInsert func(ev realtime.Event)
	OnTyping func(isTyping bool)
}

// Feed subscribes to one chat's change events. It never reconnects: once it
// leaves the live state the poller takes over until the chat is reopened.
type Feed struct {
	url         string
	liveTimeout time.Duration
	handlers    FeedHandlers

	mu    sync.Mutex
	state FeedState
	conn  *websocket.Conn
}

// NewFeed creates a feed for the websocket URL.
func NewFeed(url string, liveTimeout time.Duration, handlers FeedHandlers) *Feed {
	if liveTimeout <= 0 {
		liveTimeout = DefaultSettings().LiveTimeout
	}
	return &Feed{url: url, liveTimeout: liveTimeout, handlers: handlers, state: FeedConnecting}
}

// State returns the current state.
func (f *Feed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Feed) setState(s FeedState) {
	f.mu.Lock()
	if f.state == s || f.state == FeedClosed {
		f.mu.Unlock()
		return
	}
	f.state = s
	f.mu.Unlock()
	if f.handlers.OnState != nil {
		f.handlers.OnState(s)
	}
}

// Run connects and dispatches events until ctx ends or the connection fails.
// The feed must confirm the subscription within the live timeout, otherwise
// it ends in FeedTimedOut.
func (f *Feed) Run(ctx context.Context) {
	f.setState(FeedConnecting)

	liveTimer := time.NewTimer(f.liveTimeout)
	defer liveTimer.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut sync.Once
	timeoutFired := make(chan struct{})
	go func() {
		select {
		case <-liveTimer.C:
			if f.State() != FeedLive {
				timedOut.Do(func() { close(timeoutFired) })
				cancel()
			}
		case <-runCtx.Done():
		}
	}()

	conn, _, err := websocket.Dial(runCtx, f.url, nil)
	if err != nil {
		f.finish(ctx, timeoutFired, err)
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	for {
		_, data, err := conn.Read(runCtx)
		if err != nil {
			f.finish(ctx, timeoutFired, err)
			return
		}
		var ev realtime.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("Ignoring malformed feed frame", "error", err)
			continue
		}
		f.dispatch(ev)
	}
}

func (f *Feed) dispatch(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventSubscribed:
		f.setState(FeedLive)
	case realtime.EventChatClosed:
		slog.Info("Chat closed by server", "chat_id", ev.ChatID)
		f.setState(FeedClosed)
	case realtime.EventMessageInserted:
		if f.handlers.OnInsert != nil {
			f.handlers.OnInsert(ev)
		}
	case realtime.EventTypingStart, realtime.EventTypingStop:
		if f.handlers.OnTyping != nil {
			f.handlers.OnTyping(ev.Type == realtime.EventTypingStart)
		}
	}
}

func (f *Feed) finish(ctx context.Context, timeoutFired <-chan struct{}, err error) {
	select {
	case <-timeoutFired:
		slog.Warn("Feed did not become live in time", "timeout", f.liveTimeout)
		f.setState(FeedTimedOut)
		return
	default:
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		f.setState(FeedClosed)
		return
	}
	slog.Warn("Feed connection failed", "error", err)
	f.setState(FeedError)
}

// Close tears down the connection. Further state changes are suppressed.
func (f *Feed) Close() {
	f.mu.Lock()
	conn := f.conn
	f.state = FeedClosed
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "chat closed")
	}
}
