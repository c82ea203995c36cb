package chatclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Poller calls a resync function on a fixed interval while the feed is not
// live.
type Poller struct {
	interval time.Duration
	resync   func(ctx context.Context)
	live     atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(interval time.Duration, resync func(ctx context.Context)) *Poller {
	if interval <= 0 {
		interval = DefaultSettings().PollInterval
	}
	return &Poller{interval: interval, resync: resync}
}

// SetFeedState suppresses polling while the feed is live.
func (p *Poller) SetFeedState(s FeedState) {
	p.live.Store(s == FeedLive)
}

// Start begins polling. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.live.Load() {
				p.resync(ctx)
			}
		}
	}
}

// Stop ends polling and waits for an in-progress tick to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
