package channel

import (
	"encoding/binary"
	"encoding/json"

	"github.com/bytedance/sonic"
)

// codec is the wire codec for all structured frames. ConfigStd matches
// encoding/json semantics so the wire format stays toolable.
var codec = sonic.ConfigStd

// requestFrame is an outbound request: a correlation id, a method name,
// the immutable identifier bundle addressing the target entity, and an
// optional method-specific payload. The payload shape is untyped at
// this layer.
type requestFrame struct {
	ID       uint32 `json:"id"`
	Method   string `json:"method"`
	Internal any    `json:"internal,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// frame is the inbound superset. A non-empty Event marks a
// notification; otherwise a non-zero ID marks a response. Anything
// else is malformed.
type frame struct {
	ID       uint32          `json:"id,omitempty"`
	OK       bool            `json:"ok,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// payloadHeader is the structured header travelling with every binary
// frame on the payload channel. Outbound frames carry Method/Internal,
// inbound deliveries carry TargetID/Event.
type payloadHeader struct {
	Method   string          `json:"method,omitempty"`
	Internal any             `json:"internal,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// encodePayloadFrame lays out a payload-channel message as a 4-byte
// little-endian header length, the JSON header, then the raw payload.
func encodePayloadFrame(header, payload []byte) []byte {
	buf := make([]byte, 4+len(header)+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(header)))
	copy(buf[4:], header)
	copy(buf[4+len(header):], payload)
	return buf
}

// splitPayloadFrame is the inverse of encodePayloadFrame. The returned
// slices alias buf.
func splitPayloadFrame(buf []byte) (header, payload []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, ErrMalformedFrame
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if n < 0 || 4+n > len(buf) {
		return nil, nil, ErrMalformedFrame
	}
	return buf[4 : 4+n], buf[4+n:], nil
}
