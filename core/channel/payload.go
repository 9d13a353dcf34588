package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// PayloadHandler receives a routed binary frame: the event name, the
// small structured header data, and the raw payload bytes. Handlers run
// on the payload channel's read loop in wire order and must not block.
type PayloadHandler func(event string, data json.RawMessage, payload []byte)

// PayloadChannel carries binary frames (for example forwarded media
// packets or data channel messages) over its own transport, using the
// same target-id addressing discipline as the notification router.
// Keeping binary traffic off the control channel avoids head-of-line
// blocking and avoids parsing packet data as structured messages.
//
// Delivery is best-effort at the edges: frames for an unregistered
// target are dropped, never queued or retried.
type PayloadChannel struct {
	transport Transport
	logger    *slog.Logger
	metrics   *Metrics

	mu       sync.RWMutex
	handlers map[string]PayloadHandler
	closed   bool

	loopDone chan struct{}
}

// PayloadOption configures a PayloadChannel.
type PayloadOption func(*PayloadChannel)

// WithPayloadLogger configures structured logging for the payload
// channel. Logging is disabled by default.
func WithPayloadLogger(log *slog.Logger) PayloadOption {
	return func(pc *PayloadChannel) {
		if log != nil {
			pc.logger = log
		}
	}
}

// WithPayloadMetrics attaches prometheus collectors, typically the same
// Metrics value used by the control Channel.
func WithPayloadMetrics(metrics *Metrics) PayloadOption {
	return func(pc *PayloadChannel) {
		pc.metrics = metrics
	}
}

// NewPayloadChannel creates a payload channel over the transport and
// starts its read loop.
func NewPayloadChannel(transport Transport, opts ...PayloadOption) *PayloadChannel {
	pc := &PayloadChannel{
		transport: transport,
		logger:    logger.Noop(),
		handlers:  make(map[string]PayloadHandler),
		loopDone:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(pc)
	}

	go pc.readLoop()

	return pc
}

// Notify sends a fire-and-forget binary frame to the worker: a method
// name, the target entity's identifier bundle, optional structured
// data, and the raw payload.
func (pc *PayloadChannel) Notify(ctx context.Context, method string, internal any, data any, payload []byte) error {
	pc.mu.RLock()
	closed := pc.closed
	pc.mu.RUnlock()
	if closed {
		return ErrChannelClosed
	}

	var raw json.RawMessage
	if data != nil {
		buf, err := codec.Marshal(data)
		if err != nil {
			return err
		}
		raw = buf
	}

	header, err := codec.Marshal(payloadHeader{Method: method, Internal: internal, Data: raw})
	if err != nil {
		return err
	}

	if err := pc.transport.Send(ctx, encodePayloadFrame(header, payload)); err != nil {
		if errors.Is(err, ErrTransportClosed) {
			return ErrChannelClosed
		}
		return err
	}

	pc.metrics.observePayload("out", len(payload))
	return nil
}

// Subscribe registers the payload handler for a target entity id.
// At most one handler per id; a duplicate registration returns
// ErrHandlerAlreadyRegistered.
func (pc *PayloadChannel) Subscribe(targetID string, handler PayloadHandler) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if _, exists := pc.handlers[targetID]; exists {
		return ErrHandlerAlreadyRegistered
	}
	pc.handlers[targetID] = handler
	return nil
}

// Unsubscribe removes the payload handler for a target entity id.
// Frames arriving afterwards are dropped.
func (pc *PayloadChannel) Unsubscribe(targetID string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	delete(pc.handlers, targetID)
}

// Close shuts the payload channel down and closes its transport.
// Idempotent.
func (pc *PayloadChannel) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	pc.mu.Unlock()

	err := pc.transport.Close()
	<-pc.loopDone
	return err
}

func (pc *PayloadChannel) readLoop() {
	defer close(pc.loopDone)

	for buf := range pc.transport.Messages() {
		pc.handleFrame(buf)
	}
}

func (pc *PayloadChannel) handleFrame(buf []byte) {
	header, payload, err := splitPayloadFrame(buf)
	if err != nil {
		pc.logger.Warn("malformed payload frame dropped", logger.Error(err))
		pc.metrics.observeProtocolError()
		return
	}

	var h payloadHeader
	if err := codec.Unmarshal(header, &h); err != nil || h.Event == "" || h.TargetID == "" {
		pc.logger.Warn("unaddressable payload frame dropped")
		pc.metrics.observeProtocolError()
		return
	}

	pc.mu.RLock()
	handler, ok := pc.handlers[h.TargetID]
	pc.mu.RUnlock()

	if !ok {
		pc.logger.Debug("payload frame for unknown target dropped",
			logger.TargetID(h.TargetID),
			logger.Event(h.Event))
		return
	}

	pc.metrics.observePayload("in", len(payload))
	handler(h.Event, h.Data, payload)
}
