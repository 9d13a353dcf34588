package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed is returned for every pending and future request
	// once the channel or its transport has shut down.
	ErrChannelClosed = errors.New("channel is closed")

	// ErrRequestFailed is wrapped by RequestError when the worker
	// explicitly rejects a request. Local state is left unchanged.
	ErrRequestFailed = errors.New("request rejected by worker")

	// ErrTransportClosed is returned when sending on a closed transport.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrFrameTooLarge is returned when a frame exceeds the transport's
	// maximum frame size.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrMalformedFrame indicates a frame that could not be decoded or
	// addressed. Malformed inbound frames are logged and dropped; the
	// read loop stays alive.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrHandlerAlreadyRegistered is returned when attempting to register
	// a second notification handler for the same target id.
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for target id")
)

// RequestError reports a request the worker rejected with an explicit
// error payload. It wraps ErrRequestFailed so callers can match with
// errors.Is without inspecting the reason string.
type RequestError struct {
	Method string // method of the rejected request
	Reason string // reason reported by the worker
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %q failed: %s", e.Method, e.Reason)
}

func (e *RequestError) Unwrap() error {
	return ErrRequestFailed
}
