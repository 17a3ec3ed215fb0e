// Package bus dispatches upstream events from event sources to in-process
// subscribers such as the relay.
package bus

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"discordrelay/internal/domain"
)

// AnyKind subscribes a handler to every event kind.
const AnyKind domain.EventKind = "*"

// Handler is a callback for events.
type Handler func(ctx context.Context, ev domain.Event)

// Dispatcher is a topic-based publish/subscribe hub keyed by event kind.
// It implements domain.Publisher.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.EventKind][]namedHandler
	seq      int
	logger   *slog.Logger
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	ID      string
	Handler Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.EventKind][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for kind. Use AnyKind to receive everything.
// Returns the handler ID for Off.
func (d *Dispatcher) On(kind domain.EventKind, h Handler) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := string(kind) + "-" + strconv.Itoa(d.seq)
	d.handlers[kind] = append(d.handlers[kind], namedHandler{ID: id, Handler: h})
	return id
}

// Off removes a handler by its ID.
func (d *Dispatcher) Off(kind domain.EventKind, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	handlers := d.handlers[kind]
	for i, h := range handlers {
		if h.ID == id {
			d.handlers[kind] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every handler for ev.Kind, then the AnyKind handlers,
// synchronously and in registration order. A panicking handler is logged
// and does not affect the others or the caller.
func (d *Dispatcher) Emit(ctx context.Context, ev domain.Event) {
	d.mu.RLock()
	handlers := make([]namedHandler, 0, len(d.handlers[ev.Kind])+len(d.handlers[AnyKind]))
	handlers = append(handlers, d.handlers[ev.Kind]...)
	handlers = append(handlers, d.handlers[AnyKind]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		d.call(ctx, h, ev)
	}
}

func (d *Dispatcher) call(ctx context.Context, nh namedHandler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic", "kind", ev.Kind, "handler", nh.ID, "panic", r)
		}
	}()
	nh.Handler(ctx, ev)
}
