// Package channel implements the communication substrate between the
// proxy layer and a long-running media worker process.
//
// The worker is an opaque peer reachable through a message-framed,
// ordered, reliable duplex transport. Two parallel links are used:
//
//   - Channel carries structured control traffic: requests tagged with
//     a correlation id that resolve a blocked caller when the matching
//     response arrives, and unsolicited notifications routed to the
//     in-process entity they target.
//   - PayloadChannel carries binary frames (for example forwarded media
//     packets) with a small structured header, kept separate from
//     control traffic to avoid head-of-line blocking.
//
// A single read loop per channel dispatches frames synchronously in
// wire order, so per-entity and per-correlation-id ordering is exactly
// the order frames arrived on the transport. Requests may be issued
// concurrently from many goroutines; each in-flight request is tracked
// independently.
//
// The channel performs no retries and imposes no timeouts: a hung
// worker hangs the corresponding caller until the context is cancelled
// or the channel is closed. Health checking belongs to a higher
// operational layer.
//
// Basic usage:
//
//	transport, err := channel.Dial("/run/worker/channel.sock")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ch := channel.NewChannel(transport, channel.WithLogger(logger))
//	defer ch.Close()
//
//	data, err := ch.Request(ctx, "router.createTransport", internal, options)
//
// Notifications are demultiplexed by target entity id:
//
//	err := ch.Subscribe(consumerID, func(event string, data json.RawMessage) {
//	    // runs on the channel read loop, in wire order
//	})
//	defer ch.Unsubscribe(consumerID)
package channel
