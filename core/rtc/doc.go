// Package rtc provides the proxied entity layer over a media worker's
// control channel: typed handles for the worker's routers, transports,
// producers, consumers and data entities.
//
// Every entity is a local proxy around state the worker owns. Methods
// translate to correlation-channel requests; unsolicited worker
// notifications are routed to the entity by id and mutate local state
// before being re-emitted as typed events. The worker performs all
// real media work; this package never touches media bytes except to
// pass them through the payload channel.
//
// # Lifecycle
//
// All entities share one lifecycle discipline. An entity is destroyed
// by exactly one of: an explicit Close call, closure of its owning
// transport or router, or a peer-closure notification (a consumer's
// producer going away). Destruction is idempotent, freezes local state,
// tears down the entity's notification subscriptions exactly once, and
// rejects further outbound requests with ErrEntityClosed without
// contacting the worker. Closing a producer closes every consumer fed
// by it; closing a transport closes every entity it owns without
// issuing per-child worker requests, since the worker has already
// discarded them along with the transport.
//
// # Events and observers
//
// Each entity exposes typed primary events (for example
// Consumer.OnProducerPause) and an observer facade mirroring a curated
// subset of lifecycle events for passive monitoring. Observer callbacks
// cannot interfere with control flow; they receive close, pause,
// resume, score and layer-change edges only.
//
// Wiring a worker:
//
//	ch := channel.NewChannel(controlTransport)
//	pch := channel.NewPayloadChannel(payloadTransport)
//
//	worker := rtc.NewWorker(ch, pch, rtc.WithWorkerLogger(logger))
//	defer worker.Close()
//
//	router, err := worker.CreateRouter(ctx)
package rtc
