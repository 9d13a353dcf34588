package channel

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process Transport half. Two halves created
// by NewMemoryPair behave like the ends of a connected socket pair:
// closing either side ends the message stream on both. Intended for
// tests and in-process workers.
type MemoryTransport struct {
	peer     *MemoryTransport
	inbox    chan []byte
	messages chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryPair returns two connected in-memory transports. A message
// sent on one side is delivered on the other side's Messages stream.
func NewMemoryPair() (*MemoryTransport, *MemoryTransport) {
	a := newMemoryTransport()
	b := newMemoryTransport()
	a.peer = b
	b.peer = a

	go a.forward()
	go b.forward()

	return a, b
}

func newMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		inbox:    make(chan []byte, DefaultMessageBuffer),
		messages: make(chan []byte, DefaultMessageBuffer),
		done:     make(chan struct{}),
	}
}

// forward moves inbox messages to the consumer-facing stream so that
// Messages can be closed safely without racing in-flight sends.
func (t *MemoryTransport) forward() {
	defer close(t.messages)

	for {
		select {
		case <-t.done:
			return
		case <-t.peer.done:
			return
		case msg := <-t.inbox:
			select {
			case t.messages <- msg:
			case <-t.done:
				return
			case <-t.peer.done:
				return
			}
		}
	}
}

// Send delivers msg to the peer. The message is copied so the caller
// may reuse the slice.
func (t *MemoryTransport) Send(ctx context.Context, msg []byte) error {
	cp := make([]byte, len(msg))
	copy(cp, msg)

	select {
	case <-t.done:
		return ErrTransportClosed
	case <-t.peer.done:
		return ErrTransportClosed
	default:
	}

	select {
	case t.peer.inbox <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrTransportClosed
	case <-t.peer.done:
		return ErrTransportClosed
	}
}

// Messages implements Transport.
func (t *MemoryTransport) Messages() <-chan []byte {
	return t.messages
}

// Close shuts down this half. Both message streams end. Idempotent.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}
