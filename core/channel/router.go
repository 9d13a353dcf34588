package channel

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// NotificationHandler receives a routed notification. Handlers run on
// the channel's read loop, so they observe events for their entity in
// exact wire order and must not block.
type NotificationHandler func(event string, data json.RawMessage)

// Router demultiplexes unsolicited worker notifications by target
// entity id to exactly one registered handler per id. Dispatch to an
// unregistered id is logged and dropped, never fatal.
type Router struct {
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.RWMutex
	handlers map[string]NotificationHandler
}

// NewRouter creates a standalone notification router. A Channel creates
// its own router internally; this constructor exists for direct use in
// tests and custom read loops.
func NewRouter() *Router {
	return newRouter(logger.Noop(), nil)
}

func newRouter(logger *slog.Logger, metrics *Metrics) *Router {
	return &Router{
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[string]NotificationHandler),
	}
}

// Subscribe registers the handler for a target entity id. At most one
// handler may be registered per id; a duplicate registration returns
// ErrHandlerAlreadyRegistered.
func (r *Router) Subscribe(targetID string, handler NotificationHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[targetID]; exists {
		return ErrHandlerAlreadyRegistered
	}
	r.handlers[targetID] = handler
	return nil
}

// Unsubscribe removes the handler for a target entity id. It must be
// called synchronously with the entity's transition to closed so a
// racing notification is either delivered to a still-valid handler or
// cleanly dropped.
func (r *Router) Unsubscribe(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, targetID)
}

// Dispatch routes a notification to the handler registered for
// targetID. Returns whether a handler was found.
func (r *Router) Dispatch(targetID, event string, data json.RawMessage) bool {
	r.mu.RLock()
	handler, ok := r.handlers[targetID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("notification for unknown target dropped",
			logger.TargetID(targetID),
			logger.Event(event))
		r.metrics.observeNotification(false)
		return false
	}

	handler(event, data)
	r.metrics.observeNotification(true)
	return true
}
