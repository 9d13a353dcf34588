package rtc_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mediaproxy/core/channel"
	"github.com/dmitrymomot/mediaproxy/core/rtc"
)

// entityRef mirrors the identifier bundle as the worker sees it.
type entityRef struct {
	RouterID       string `json:"routerId"`
	TransportID    string `json:"transportId"`
	ProducerID     string `json:"producerId"`
	ConsumerID     string `json:"consumerId"`
	DataProducerID string `json:"dataProducerId"`
	DataConsumerID string `json:"dataConsumerId"`
}

// controlRequest is one request frame recorded by the fake worker.
type controlRequest struct {
	ID       uint32          `json:"id"`
	Method   string          `json:"method"`
	Internal entityRef       `json:"internal"`
	Data     json.RawMessage `json:"data"`
}

// payloadRecord is one binary frame recorded by the fake worker.
type payloadRecord struct {
	Method   string
	Internal entityRef
	Payload  []byte
}

// fakeWorker plays the worker's end of both channels: scripted
// responders per method, plus helpers to push notifications and binary
// frames back at the proxies.
type fakeWorker struct {
	t       *testing.T
	control channel.Transport
	binary  channel.Transport

	mu       sync.Mutex
	handlers map[string]func(controlRequest) (any, string)
	requests []controlRequest
	frames   []payloadRecord

	wg sync.WaitGroup
}

// defaultConsumeConfirm seeds Transport.Consume's worker confirmation
// unless a test overrides the transport.consume handler.
var defaultConsumeConfirm = map[string]any{
	"type":           "simple",
	"paused":         false,
	"producerPaused": false,
	"score":          map[string]int{"score": 10, "producerScore": 10},
}

// newHarness wires a Worker to a fake in-process media worker and
// registers teardown that closes everything and waits for the serve
// goroutines.
func newHarness(t *testing.T) (*rtc.Worker, *fakeWorker) {
	t.Helper()

	controlLocal, controlRemote := channel.NewMemoryPair()
	payloadLocal, payloadRemote := channel.NewMemoryPair()

	fw := &fakeWorker{
		t:        t,
		control:  controlRemote,
		binary:   payloadRemote,
		handlers: make(map[string]func(controlRequest) (any, string)),
	}
	fw.handle("transport.consume", func(controlRequest) (any, string) {
		return defaultConsumeConfirm, ""
	})

	fw.wg.Add(2)
	go fw.serveControl()
	go fw.servePayload()

	ch := channel.NewChannel(controlLocal)
	pch := channel.NewPayloadChannel(payloadLocal)
	worker := rtc.NewWorker(ch, pch)

	t.Cleanup(func() {
		_ = worker.Close()
		_ = controlRemote.Close()
		_ = payloadRemote.Close()
		fw.wg.Wait()
	})

	return worker, fw
}

func (fw *fakeWorker) serveControl() {
	defer fw.wg.Done()

	for buf := range fw.control.Messages() {
		var req controlRequest
		if err := json.Unmarshal(buf, &req); err != nil {
			continue
		}

		fw.mu.Lock()
		fw.requests = append(fw.requests, req)
		handler := fw.handlers[req.Method]
		fw.mu.Unlock()

		resp := map[string]any{"id": req.ID, "ok": true}
		if handler != nil {
			data, reason := handler(req)
			if reason != "" {
				resp["ok"] = false
				resp["reason"] = reason
			} else if data != nil {
				resp["data"] = data
			}
		}

		out, err := json.Marshal(resp)
		require.NoError(fw.t, err)
		if err := fw.control.Send(context.Background(), out); err != nil {
			return
		}
	}
}

func (fw *fakeWorker) servePayload() {
	defer fw.wg.Done()

	for buf := range fw.binary.Messages() {
		if len(buf) < 4 {
			continue
		}
		n := int(binary.LittleEndian.Uint32(buf))
		if 4+n > len(buf) {
			continue
		}

		var header struct {
			Method   string    `json:"method"`
			Internal entityRef `json:"internal"`
		}
		if err := json.Unmarshal(buf[4:4+n], &header); err != nil {
			continue
		}

		fw.mu.Lock()
		fw.frames = append(fw.frames, payloadRecord{
			Method:   header.Method,
			Internal: header.Internal,
			Payload:  buf[4+n:],
		})
		fw.mu.Unlock()
	}
}

// handle scripts the response for a method. The handler returns the
// response data and, for a rejection, a non-empty reason.
func (fw *fakeWorker) handle(method string, fn func(controlRequest) (any, string)) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.handlers[method] = fn
}

// respondWith scripts a fixed success payload for a method.
func (fw *fakeWorker) respondWith(method string, data any) {
	fw.handle(method, func(controlRequest) (any, string) { return data, "" })
}

// failWith scripts a rejection for a method.
func (fw *fakeWorker) failWith(method, reason string) {
	fw.handle(method, func(controlRequest) (any, string) { return nil, reason })
}

// notify pushes a notification frame at the control channel.
func (fw *fakeWorker) notify(targetID, event string, data any) {
	frame := map[string]any{"targetId": targetID, "event": event}
	if data != nil {
		frame["data"] = data
	}
	buf, err := json.Marshal(frame)
	require.NoError(fw.t, err)
	require.NoError(fw.t, fw.control.Send(context.Background(), buf))
}

// sendPayload pushes a binary frame at the payload channel.
func (fw *fakeWorker) sendPayload(targetID, event string, payload []byte) {
	header, err := json.Marshal(map[string]string{"targetId": targetID, "event": event})
	require.NoError(fw.t, err)

	buf := make([]byte, 4+len(header)+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(header)))
	copy(buf[4:], header)
	copy(buf[4+len(header):], payload)
	require.NoError(fw.t, fw.binary.Send(context.Background(), buf))
}

// requestCount reports how many requests for a method have arrived.
func (fw *fakeWorker) requestCount(method string) int {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	count := 0
	for _, req := range fw.requests {
		if req.Method == method {
			count++
		}
	}
	return count
}

// lastRequest returns the most recent request for a method.
func (fw *fakeWorker) lastRequest(method string) (controlRequest, bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	for i := len(fw.requests) - 1; i >= 0; i-- {
		if fw.requests[i].Method == method {
			return fw.requests[i], true
		}
	}
	return controlRequest{}, false
}

// payloadFrames returns a snapshot of recorded binary frames.
func (fw *fakeWorker) payloadFrames() []payloadRecord {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]payloadRecord(nil), fw.frames...)
}

// buildPipeline creates router → transport, the common test fixture.
func buildPipeline(t *testing.T, worker *rtc.Worker) (*rtc.Router, *rtc.Transport) {
	t.Helper()

	router, err := worker.CreateRouter(context.Background())
	require.NoError(t, err)

	transport, err := router.CreateTransport(context.Background(), rtc.TransportOptions{EnableSctp: true})
	require.NoError(t, err)

	return router, transport
}

// produceAudio creates an audio producer with opaque RTP parameters.
func produceAudio(t *testing.T, transport *rtc.Transport) *rtc.Producer {
	t.Helper()

	producer, err := transport.Produce(context.Background(), rtc.ProducerOptions{
		Kind:          rtc.MediaKindAudio,
		RTPParameters: json.RawMessage(`{"codecs":[]}`),
	})
	require.NoError(t, err)
	return producer
}

// consume creates a consumer fed by the producer on the transport.
func consume(t *testing.T, transport *rtc.Transport, producer *rtc.Producer) *rtc.Consumer {
	t.Helper()

	consumer, err := transport.Consume(context.Background(), rtc.ConsumerOptions{
		ProducerID:      producer.ID(),
		RTPCapabilities: json.RawMessage(`{"codecs":[]}`),
	})
	require.NoError(t, err)
	return consumer
}
