package channel_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mediaproxy/core/channel"
)

// workerRequest mirrors the outbound request frame as the worker side
// sees it.
type workerRequest struct {
	ID       uint32          `json:"id"`
	Method   string          `json:"method"`
	Internal json.RawMessage `json:"internal"`
	Data     json.RawMessage `json:"data"`
}

// workerResponse mirrors a worker response frame.
type workerResponse struct {
	ID     uint32 `json:"id"`
	OK     bool   `json:"ok"`
	Data   any    `json:"data,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// workerNotification mirrors a worker notification frame.
type workerNotification struct {
	TargetID string `json:"targetId"`
	Event    string `json:"event"`
	Data     any    `json:"data,omitempty"`
}

// fakePeer plays the worker's end of a control channel transport:
// requests are handed to a scripted responder, and helpers push
// notification frames.
type fakePeer struct {
	t         *testing.T
	transport channel.Transport
	respond   func(workerRequest) *workerResponse
	wg        sync.WaitGroup
}

func newFakePeer(t *testing.T, transport channel.Transport, respond func(workerRequest) *workerResponse) *fakePeer {
	t.Helper()

	p := &fakePeer{t: t, transport: transport, respond: respond}
	p.wg.Add(1)
	go p.serve()
	t.Cleanup(func() {
		p.transport.Close()
		p.wg.Wait()
	})
	return p
}

func (p *fakePeer) serve() {
	defer p.wg.Done()

	for buf := range p.transport.Messages() {
		var req workerRequest
		if err := json.Unmarshal(buf, &req); err != nil {
			continue
		}
		if p.respond == nil {
			continue
		}
		if resp := p.respond(req); resp != nil {
			p.send(*resp)
		}
	}
}

func (p *fakePeer) send(resp workerResponse) {
	buf, err := json.Marshal(resp)
	require.NoError(p.t, err)
	require.NoError(p.t, p.transport.Send(context.Background(), buf))
}

func (p *fakePeer) notify(n workerNotification) {
	buf, err := json.Marshal(n)
	require.NoError(p.t, err)
	require.NoError(p.t, p.transport.Send(context.Background(), buf))
}

func (p *fakePeer) sendRaw(buf []byte) {
	require.NoError(p.t, p.transport.Send(context.Background(), buf))
}

func echoResponder(req workerRequest) *workerResponse {
	return &workerResponse{ID: req.ID, OK: true, Data: map[string]string{"method": req.Method}}
}

// counterValue reads one counter sample out of a registry, matching by
// fully-qualified name and label set.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	sample:
		for _, metric := range family.GetMetric() {
			for key, want := range labels {
				found := false
				for _, pair := range metric.GetLabel() {
					if pair.GetName() == key && pair.GetValue() == want {
						found = true
						break
					}
				}
				if !found {
					continue sample
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestChannelRequest(t *testing.T) {
	t.Parallel()

	t.Run("correlates concurrent requests under out-of-order replies", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()

		// Buffer both requests so they can be answered newest first.
		var mu sync.Mutex
		var held []workerRequest
		peer := newFakePeer(t, remote, func(req workerRequest) *workerResponse {
			mu.Lock()
			defer mu.Unlock()
			held = append(held, req)
			return nil
		})

		ch := channel.NewChannel(local)
		defer ch.Close()

		results := make(chan string, 2)
		for _, method := range []string{"alpha.do", "beta.do"} {
			go func() {
				data, err := ch.Request(context.Background(), method, nil, nil)
				if err != nil {
					results <- "error: " + err.Error()
					return
				}
				var body struct {
					Method string `json:"method"`
				}
				if err := json.Unmarshal(data, &body); err != nil {
					results <- "error: " + err.Error()
					return
				}
				results <- method + "→" + body.Method
			}()
		}

		// Wait until both requests are buffered, then reply newest first.
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(held) == 2
		}, time.Second, time.Millisecond)

		mu.Lock()
		for i := len(held) - 1; i >= 0; i-- {
			peer.send(workerResponse{ID: held[i].ID, OK: true, Data: map[string]string{"method": held[i].Method}})
		}
		mu.Unlock()

		got := map[string]bool{}
		for range 2 {
			select {
			case r := <-results:
				got[r] = true
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for request results")
			}
		}
		assert.True(t, got["alpha.do→alpha.do"], "alpha.do should receive its own reply")
		assert.True(t, got["beta.do→beta.do"], "beta.do should receive its own reply")
	})

	t.Run("carries the identifier bundle and data on the wire", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()

		captured := make(chan workerRequest, 1)
		newFakePeer(t, remote, func(req workerRequest) *workerResponse {
			captured <- req
			return &workerResponse{ID: req.ID, OK: true}
		})

		ch := channel.NewChannel(local)
		defer ch.Close()

		internal := map[string]string{"routerId": "r1", "transportId": "t1"}
		data := map[string]any{"paused": true}
		_, err := ch.Request(context.Background(), "transport.produce", internal, data)
		require.NoError(t, err)

		select {
		case req := <-captured:
			assert.Equal(t, "transport.produce", req.Method)
			assert.JSONEq(t, `{"routerId":"r1","transportId":"t1"}`, string(req.Internal))
			assert.JSONEq(t, `{"paused":true}`, string(req.Data))
			assert.NotZero(t, req.ID, "correlation id zero is reserved")
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for captured request")
		}
	})

	t.Run("surfaces worker rejection as RequestError", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()
		newFakePeer(t, remote, func(req workerRequest) *workerResponse {
			return &workerResponse{ID: req.ID, OK: false, Reason: "no such entity"}
		})

		ch := channel.NewChannel(local)
		defer ch.Close()

		_, err := ch.Request(context.Background(), "consumer.pause", nil, nil)
		require.ErrorIs(t, err, channel.ErrRequestFailed)

		var reqErr *channel.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, "consumer.pause", reqErr.Method)
		assert.Equal(t, "no such entity", reqErr.Reason)
	})

	t.Run("respects context cancellation while waiting", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()
		newFakePeer(t, remote, nil) // never replies

		ch := channel.NewChannel(local)
		defer ch.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := ch.Request(ctx, "worker.dump", nil, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("fails pending requests on close", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()

		received := make(chan struct{})
		newFakePeer(t, remote, func(workerRequest) *workerResponse {
			close(received)
			return nil
		})

		ch := channel.NewChannel(local)

		errs := make(chan error, 1)
		go func() {
			_, err := ch.Request(context.Background(), "worker.dump", nil, nil)
			errs <- err
		}()

		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the request to reach the peer")
		}

		require.NoError(t, ch.Close())

		select {
		case err := <-errs:
			assert.ErrorIs(t, err, channel.ErrChannelClosed)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the pending request to settle")
		}

		_, err := ch.Request(context.Background(), "worker.dump", nil, nil)
		assert.ErrorIs(t, err, channel.ErrChannelClosed)
	})

	t.Run("fails pending requests when the peer transport dies", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()

		received := make(chan struct{})
		go func() {
			<-remote.Messages()
			close(received)
		}()

		ch := channel.NewChannel(local)
		defer ch.Close()

		errs := make(chan error, 1)
		go func() {
			_, err := ch.Request(context.Background(), "worker.dump", nil, nil)
			errs <- err
		}()

		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the request to reach the peer")
		}

		require.NoError(t, remote.Close())

		select {
		case err := <-errs:
			assert.ErrorIs(t, err, channel.ErrChannelClosed)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the pending request to settle")
		}
	})
}

func TestChannelNotifications(t *testing.T) {
	t.Parallel()

	t.Run("dispatches notifications to the registered handler", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()
		peer := newFakePeer(t, remote, nil)

		ch := channel.NewChannel(local)
		defer ch.Close()

		type delivery struct {
			event string
			data  json.RawMessage
		}
		deliveries := make(chan delivery, 1)
		require.NoError(t, ch.Subscribe("consumer-1", func(event string, data json.RawMessage) {
			deliveries <- delivery{event: event, data: data}
		}))

		peer.notify(workerNotification{TargetID: "consumer-1", Event: "score", Data: map[string]int{"score": 9}})

		select {
		case d := <-deliveries:
			assert.Equal(t, "score", d.event)
			assert.JSONEq(t, `{"score":9}`, string(d.data))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notification delivery")
		}
	})

	t.Run("rejects a second handler for the same target", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()
		newFakePeer(t, remote, nil)

		ch := channel.NewChannel(local)
		defer ch.Close()

		require.NoError(t, ch.Subscribe("producer-1", func(string, json.RawMessage) {}))
		err := ch.Subscribe("producer-1", func(string, json.RawMessage) {})
		assert.ErrorIs(t, err, channel.ErrHandlerAlreadyRegistered)
	})

	t.Run("drops notifications for unknown targets and counts them", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()
		peer := newFakePeer(t, remote, nil)

		reg := prometheus.NewRegistry()
		metrics := channel.NewMetrics(reg)
		ch := channel.NewChannel(local, channel.WithMetrics(metrics))
		defer ch.Close()

		delivered := make(chan struct{}, 1)
		require.NoError(t, ch.Subscribe("known", func(string, json.RawMessage) {
			delivered <- struct{}{}
		}))

		// The unknown-target frame first, then a known one as an
		// ordering barrier: the read loop handles frames in wire order.
		peer.notify(workerNotification{TargetID: "nobody-home", Event: "score"})
		peer.notify(workerNotification{TargetID: "known", Event: "score"})

		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the barrier notification")
		}

		dropped := counterValue(t, reg, "mediaproxy_channel_notifications_total", map[string]string{"outcome": "dropped"})
		assert.Equal(t, 1.0, dropped)
	})

	t.Run("stops delivering after unsubscribe", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()
		peer := newFakePeer(t, remote, nil)

		ch := channel.NewChannel(local)
		defer ch.Close()

		first := make(chan struct{}, 2)
		require.NoError(t, ch.Subscribe("target-a", func(string, json.RawMessage) {
			first <- struct{}{}
		}))
		barrier := make(chan struct{}, 1)
		require.NoError(t, ch.Subscribe("target-b", func(string, json.RawMessage) {
			barrier <- struct{}{}
		}))

		peer.notify(workerNotification{TargetID: "target-a", Event: "one"})
		select {
		case <-first:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the first delivery")
		}

		ch.Unsubscribe("target-a")
		peer.notify(workerNotification{TargetID: "target-a", Event: "two"})
		peer.notify(workerNotification{TargetID: "target-b", Event: "barrier"})

		select {
		case <-barrier:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the barrier notification")
		}
		assert.Empty(t, first, "no delivery after unsubscribe")
	})
}

func TestChannelProtocolErrors(t *testing.T) {
	t.Parallel()

	t.Run("survives malformed and unaddressable frames", func(t *testing.T) {
		t.Parallel()

		local, remote := channel.NewMemoryPair()
		peer := newFakePeer(t, remote, echoResponder)

		reg := prometheus.NewRegistry()
		metrics := channel.NewMetrics(reg)
		ch := channel.NewChannel(local, channel.WithMetrics(metrics))
		defer ch.Close()

		peer.sendRaw([]byte("this is not json"))
		peer.sendRaw([]byte(`{"ok":true}`))                // neither id nor event
		peer.sendRaw([]byte(`{"id":424242,"ok":true}`))    // unknown correlation id
		peer.sendRaw([]byte(`{"id":424243,"ok":false}`))   // unknown correlation id
		peer.sendRaw([]byte(`{"event":"","targetId":"x"}`)) // empty event, no id

		// The channel must still serve requests afterwards.
		data, err := ch.Request(context.Background(), "worker.dump", nil, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"method":"worker.dump"}`, string(data))

		assert.GreaterOrEqual(t, counterValue(t, reg, "mediaproxy_channel_protocol_errors_total", nil), 4.0)
	})
}
