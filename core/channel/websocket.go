package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// WebSocketTransport adapts a websocket connection to the Transport
// interface. WebSocket messages are already framed, ordered and
// reliable, so no extra framing is applied. Useful when the worker sits
// behind a supervisor reachable over WS rather than a local socket pair.
type WebSocketTransport struct {
	conn     *websocket.Conn
	messages chan []byte
	logger   *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// WebSocketOption configures a WebSocketTransport.
type WebSocketOption func(*WebSocketTransport)

// WithWebSocketLogger configures structured logging for the transport.
// Logging is disabled by default.
func WithWebSocketLogger(log *slog.Logger) WebSocketOption {
	return func(t *WebSocketTransport) {
		if log != nil {
			t.logger = log
		}
	}
}

// NewWebSocketTransport wraps an established websocket connection and
// starts reading messages from it.
func NewWebSocketTransport(conn *websocket.Conn, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		conn:     conn,
		messages: make(chan []byte, DefaultMessageBuffer),
		logger:   logger.Noop(),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	go t.readLoop()

	return t
}

// DialWebSocket connects to a websocket endpoint and returns a
// transport over the connection.
func DialWebSocket(ctx context.Context, url string, opts ...WebSocketOption) (*WebSocketTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewWebSocketTransport(conn, opts...), nil
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.messages)

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.logger.Warn("websocket read failed", logger.Error(err))
				}
			}
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		select {
		case t.messages <- data:
		case <-t.done:
			return
		}
	}
}

// Send writes a single binary websocket message. Safe for concurrent use.
func (t *WebSocketTransport) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		select {
		case <-t.done:
			return ErrTransportClosed
		default:
		}
		return err
	}
	return nil
}

// Messages implements Transport.
func (t *WebSocketTransport) Messages() <-chan []byte {
	return t.messages
}

// Close sends a close frame on a best-effort basis and tears the
// connection down. Idempotent.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}
