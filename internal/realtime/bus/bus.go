// Package bus carries feed events between server instances.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/amora/internal/realtime"
)

// Bus publishes feed events and forwards received events to a local callback.
type Bus interface {
	Publish(ctx context.Context, ev realtime.Event) error
	StartForwarder(ctx context.Context, onEvent func(ev realtime.Event)) error
	Close() error
}

var errClosed = errors.New("bus closed")

type memoryBus struct {
	mu       sync.RWMutex
	handlers []func(ev realtime.Event)
	closed   bool
}

// NewMemoryBus returns an in-process bus for single-instance deployments.
// Published events are delivered synchronously to every forwarder.
func NewMemoryBus() Bus {
	return &memoryBus{}
}

func (b *memoryBus) Publish(_ context.Context, ev realtime.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onEvent func(ev realtime.Event)) error {
	if onEvent == nil {
		return errors.New("onEvent callback required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}
	idx := len(b.handlers)
	b.handlers = append(b.handlers, onEvent)

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.handlers) {
			b.handlers[idx] = func(realtime.Event) {}
		}
	}()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
