package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/dmitrymomot/mediaproxy/core/logger"
)

const (
	// DefaultMaxFrameSize bounds a single frame on the pipe transport.
	// Frames above the limit are rejected on send and treated as a fatal
	// framing error on receive.
	DefaultMaxFrameSize = 4 << 20

	// DefaultMessageBuffer is the default capacity of a transport's
	// inbound message channel.
	DefaultMessageBuffer = 128
)

// Transport is a message-framed, ordered, reliable, bidirectional link
// to the worker process. Implementations must preserve message
// boundaries and wire order.
//
// Messages returns the inbound stream; the channel is closed when the
// transport shuts down, whether locally via Close or because the peer
// went away.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Messages() <-chan []byte
	Close() error
}

// PipeTransport frames messages over a stream connection (typically a
// unix socket pair shared with the worker) using a 4-byte little-endian
// length prefix.
type PipeTransport struct {
	conn     net.Conn
	messages chan []byte
	maxFrame int
	buffer   int
	logger   *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// PipeOption configures a PipeTransport.
type PipeOption func(*PipeTransport)

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(size int) PipeOption {
	return func(t *PipeTransport) {
		if size > 0 {
			t.maxFrame = size
		}
	}
}

// WithMessageBuffer overrides DefaultMessageBuffer.
func WithMessageBuffer(size int) PipeOption {
	return func(t *PipeTransport) {
		if size > 0 {
			t.buffer = size
		}
	}
}

// WithPipeLogger configures structured logging for the transport.
// Logging is disabled by default.
func WithPipeLogger(log *slog.Logger) PipeOption {
	return func(t *PipeTransport) {
		if log != nil {
			t.logger = log
		}
	}
}

// NewPipeTransport wraps an established stream connection and starts
// reading frames from it.
func NewPipeTransport(conn net.Conn, opts ...PipeOption) *PipeTransport {
	t := &PipeTransport{
		conn:     conn,
		maxFrame: DefaultMaxFrameSize,
		buffer:   DefaultMessageBuffer,
		logger:   logger.Noop(),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.messages = make(chan []byte, t.buffer)

	go t.readLoop()

	return t
}

// Dial connects to the worker's unix socket and returns a pipe
// transport over the connection.
func Dial(path string, opts ...PipeOption) (*PipeTransport, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return NewPipeTransport(conn, opts...), nil
}

func (t *PipeTransport) readLoop() {
	defer close(t.messages)

	var hdr [4]byte
	for {
		if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
			t.logReadError(err)
			return
		}

		size := int(binary.LittleEndian.Uint32(hdr[:]))
		if size == 0 {
			continue
		}
		if size > t.maxFrame {
			// Framing is unrecoverable once the stream position is lost.
			t.logger.Error("inbound frame exceeds maximum size, closing transport",
				logger.Count("size", size),
				logger.Count("max", t.maxFrame))
			_ = t.Close()
			return
		}

		buf := make([]byte, size)
		if _, err := io.ReadFull(t.conn, buf); err != nil {
			t.logReadError(err)
			return
		}

		select {
		case t.messages <- buf:
		case <-t.done:
			return
		}
	}
}

func (t *PipeTransport) logReadError(err error) {
	select {
	case <-t.done:
		// Expected after a local Close.
	default:
		if !errors.Is(err, io.EOF) {
			t.logger.Warn("transport read failed", logger.Error(err))
		}
	}
}

// Send writes a single length-prefixed frame. Safe for concurrent use;
// concurrent frames are serialized, never interleaved.
func (t *PipeTransport) Send(ctx context.Context, msg []byte) error {
	if len(msg) > t.maxFrame {
		return ErrFrameTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	buf := make([]byte, 4+len(msg))
	binary.LittleEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[4:], msg)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.conn.Write(buf); err != nil {
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
func (t *PipeTransport) Messages() <-chan []byte {
	return t.messages
}

// Close shuts the transport down. Idempotent. Pending reads and writes
// are unblocked by closing the underlying connection.
func (t *PipeTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
