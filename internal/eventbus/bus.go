// Package eventbus provides the in-process publish/subscribe hub used
// by the cache, transaction coordinator, and backup orchestrator to
// notify interested listeners without coupling them together.
//
// The bus is strictly in-process.
// Registration returns a revocable handle
// with a hard cap on listener count, closing the "listeners with
// implicit lifetime" gap called out in the design notes.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// MaxListeners bounds the number of handlers the bus will accept.
const MaxListeners = 256

// Handler receives dispatched events. Handle must not block
// indefinitely — the bus calls handlers sequentially in priority
// order and a slow handler delays every later one in the same
// Dispatch call.
type Handler interface {
	ID() string
	Priority() int
	Handle(ctx context.Context, event *Event) error
}

// FuncHandler adapts a plain function to the Handler interface.
type FuncHandler struct {
	HandlerID string
	Prio      int
	Fn        func(ctx context.Context, event *Event) error
}

func (f *FuncHandler) ID() string       { return f.HandlerID }
func (f *FuncHandler) Priority() int    { return f.Prio }
func (f *FuncHandler) Handle(ctx context.Context, e *Event) error {
	return f.Fn(ctx, e)
}

// Subscription is the revocable handle returned by Register.
type Subscription struct {
	id  string
	bus *Bus
}

// Cancel removes the handler from the bus. Safe to call more than
// once.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unregister(s.id)
}

// Bus dispatches events to registered handlers in priority order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *slog.Logger
	closed   bool
}

// New creates an event bus. A nil logger falls back to slog.Default().
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Register adds a handler, returning a Subscription the caller can
// Cancel. Returns an error if the bus is closed or already at
// MaxListeners.
func (b *Bus) Register(h Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("eventbus: closed")
	}
	if len(b.handlers) >= MaxListeners {
		return nil, fmt.Errorf("eventbus: max listeners (%d) reached", MaxListeners)
	}
	b.handlers = append(b.handlers, h)
	return &Subscription{id: h.ID(), bus: b}, nil
}

func (b *Bus) unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.ID() == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch sends event to every registered handler, lowest priority
// first. Handler errors are logged but do not stop the chain.
func (b *Bus) Dispatch(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	matching := make([]Handler, len(b.handlers))
	copy(matching, b.handlers)
	b.mu.RUnlock()

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority() < matching[j].Priority()
	})

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := h.Handle(ctx, event); err != nil {
			b.log.Warn("eventbus handler error", "handler", h.ID(), "event", event.Type, "error", err)
		}
	}
}

// Close drops every registered listener. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
	b.closed = true
}

// Len reports the current listener count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
