package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// Channel is the correlation channel: it sends requests tagged with a
// unique correlation id over the transport, resolves the blocked caller
// when the matching response arrives, and hands notification frames to
// its Router.
//
// A single read loop dispatches inbound frames synchronously in wire
// order. Requests may be issued concurrently; each in-flight request is
// tracked independently, so unrelated correlation ids never block each
// other.
type Channel struct {
	transport Transport
	router    *Router
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]*pendingRequest
	closed  bool

	loopDone chan struct{}
}

// pendingRequest is the in-flight slot owned exclusively by the
// channel: registered before the request frame is written, removed on
// resolution, caller cancellation, or channel shutdown.
type pendingRequest struct {
	method string
	result chan result
}

type result struct {
	data json.RawMessage
	err  error
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger configures structured logging for channel operations.
// Logging is disabled by default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Channel) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithMetrics attaches prometheus collectors to the channel. The same
// Metrics value may be shared with a PayloadChannel.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Channel) {
		c.metrics = metrics
	}
}

// NewChannel creates a correlation channel over the transport and
// starts its read loop.
//
// Example:
//
//	transport, err := channel.Dial(cfg.ChannelSocket)
//	if err != nil {
//	    return err
//	}
//	ch := channel.NewChannel(transport, channel.WithLogger(logger))
//	defer ch.Close()
func NewChannel(transport Transport, opts ...Option) *Channel {
	c := &Channel{
		transport: transport,
		logger:    logger.Noop(),
		pending:   make(map[uint32]*pendingRequest),
		loopDone:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.router = newRouter(c.logger, c.metrics)

	go c.readLoop()

	return c
}

// Request sends a method call addressed by the entity's identifier
// bundle and blocks until the worker replies, the context is cancelled,
// or the channel shuts down. The reply payload is method-specific and
// untyped at this layer.
//
// A worker rejection surfaces as *RequestError (wrapping
// ErrRequestFailed); a closed channel surfaces as ErrChannelClosed.
// The channel never retries: delivery is exactly-once-attempted.
func (c *Channel) Request(ctx context.Context, method string, internal any, data any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.metrics.observeRequest(method, outcomeClosed)
		return nil, ErrChannelClosed
	}
	id := c.allocateID()
	slot := &pendingRequest{method: method, result: make(chan result, 1)}
	c.pending[id] = slot
	c.mu.Unlock()

	buf, err := codec.Marshal(requestFrame{ID: id, Method: method, Internal: internal, Data: data})
	if err != nil {
		c.discard(id)
		return nil, err
	}

	if err := c.transport.Send(ctx, buf); err != nil {
		c.discard(id)
		if errors.Is(err, ErrTransportClosed) {
			c.metrics.observeRequest(method, outcomeClosed)
			return nil, ErrChannelClosed
		}
		return nil, err
	}

	c.logger.Debug("request sent",
		logger.CorrelationID(id),
		logger.Method(method))

	select {
	case res := <-slot.result:
		switch {
		case res.err == nil:
			c.metrics.observeRequest(method, outcomeOK)
		case errors.Is(res.err, ErrChannelClosed):
			c.metrics.observeRequest(method, outcomeClosed)
		default:
			c.metrics.observeRequest(method, outcomeFailed)
		}
		return res.data, res.err
	case <-ctx.Done():
		c.discard(id)
		return nil, ctx.Err()
	}
}

// Subscribe registers a notification handler for a target entity id.
// See Router.Subscribe.
func (c *Channel) Subscribe(targetID string, handler NotificationHandler) error {
	return c.router.Subscribe(targetID, handler)
}

// Unsubscribe removes the notification handler for a target entity id.
func (c *Channel) Unsubscribe(targetID string) {
	c.router.Unsubscribe(targetID)
}

// Close shuts the channel down: every pending request fails with
// ErrChannelClosed, the transport is closed, and the read loop stops.
// Idempotent.
func (c *Channel) Close() error {
	if !c.shutdown() {
		return nil
	}

	err := c.transport.Close()
	<-c.loopDone
	return err
}

// allocateID returns a fresh correlation id, never zero and never one
// still in flight. Caller holds c.mu.
func (c *Channel) allocateID() uint32 {
	for {
		c.nextID++
		if c.nextID == 0 {
			continue
		}
		if _, busy := c.pending[c.nextID]; !busy {
			return c.nextID
		}
	}
}

func (c *Channel) discard(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// shutdown marks the channel closed and settles all pending requests.
// Returns false if the channel was already closed.
func (c *Channel) shutdown() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]*pendingRequest)
	c.mu.Unlock()

	for _, slot := range pending {
		slot.result <- result{err: ErrChannelClosed}
	}

	if len(pending) > 0 {
		c.logger.Warn("channel closed with requests in flight",
			logger.Count("pending", len(pending)))
	}
	return true
}

func (c *Channel) readLoop() {
	defer close(c.loopDone)

	for buf := range c.transport.Messages() {
		c.handleMessage(buf)
	}

	// Transport gone underneath us: fail everything still pending.
	c.shutdown()
}

func (c *Channel) handleMessage(buf []byte) {
	var f frame
	if err := codec.Unmarshal(buf, &f); err != nil {
		c.logger.Warn("malformed frame dropped", logger.Error(err))
		c.metrics.observeProtocolError()
		return
	}

	switch {
	case f.Event != "":
		c.router.Dispatch(f.TargetID, f.Event, f.Data)
	case f.ID != 0:
		c.resolve(f)
	default:
		c.logger.Warn("unaddressable frame dropped")
		c.metrics.observeProtocolError()
	}
}

// resolve settles the pending request matching the response's
// correlation id. Unknown or already-settled ids are logged and
// dropped, not fatal.
func (c *Channel) resolve(f frame) {
	c.mu.Lock()
	slot, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response for unknown correlation id dropped",
			logger.CorrelationID(f.ID))
		c.metrics.observeProtocolError()
		return
	}

	if f.OK {
		slot.result <- result{data: f.Data}
		return
	}

	reason := f.Reason
	if reason == "" {
		reason = "unspecified error"
	}
	slot.result <- result{err: &RequestError{Method: slot.method, Reason: reason}}
}
