package rtc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mediaproxy/core/channel"
	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// Router is the local proxy for a worker router. It creates transports
// and keeps the producer/consumer linkage index that powers the
// peer-close cascade: closing a producer closes every consumer fed by
// it, wherever that consumer's transport lives.
type Router struct {
	internal Internal

	channel *channel.Channel
	payload *channel.PayloadChannel
	logger  *slog.Logger

	mu                      sync.Mutex
	life                    lifecycleState
	transports              map[string]*Transport
	producers               map[string]*Producer
	dataProducers           map[string]*DataProducer
	consumersByProducer     map[string]map[string]*Consumer
	dataConsumersByProducer map[string]map[string]*DataConsumer

	onWorkerClose signal

	destroyed func(*Router)

	observer *RouterObserver
}

// RouterObserver mirrors router lifecycle and transport creation events
// for passive monitoring.
type RouterObserver struct {
	closeSig     signal
	newTransport emitter[*Transport]
}

// OnClose fires exactly once when the router is destroyed.
func (o *RouterObserver) OnClose(fn func()) { o.closeSig.subscribe(fn) }

// OnNewTransport fires when a transport is created on the router.
func (o *RouterObserver) OnNewTransport(fn func(*Transport)) { o.newTransport.subscribe(fn) }

type routerParams struct {
	internal  Internal
	channel   *channel.Channel
	payload   *channel.PayloadChannel
	logger    *slog.Logger
	destroyed func(*Router)
}

func newRouter(params routerParams) *Router {
	return &Router{
		internal:                params.internal,
		channel:                 params.channel,
		payload:                 params.payload,
		logger:                  params.logger,
		transports:              make(map[string]*Transport),
		producers:               make(map[string]*Producer),
		dataProducers:           make(map[string]*DataProducer),
		consumersByProducer:     make(map[string]map[string]*Consumer),
		dataConsumersByProducer: make(map[string]map[string]*DataConsumer),
		destroyed:               params.destroyed,
		observer:                &RouterObserver{},
	}
}

// ID returns the router id.
func (r *Router) ID() string { return r.internal.RouterID }

// Closed reports whether the router has been destroyed.
func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.life != stateOpen
}

// Observer returns the router's monitoring facade.
func (r *Router) Observer() *RouterObserver { return r.observer }

// OnWorkerClose registers a listener for the owning worker going away.
func (r *Router) OnWorkerClose(fn func()) { r.onWorkerClose.subscribe(fn) }

// CreateTransport creates a transport on the router. The transport id
// is assigned locally and confirmed by the worker.
func (r *Router) CreateTransport(ctx context.Context, opts TransportOptions) (*Transport, error) {
	if r.Closed() {
		return nil, ErrEntityClosed
	}

	internal := r.internal
	internal.TransportID = uuid.NewString()

	if _, err := r.channel.Request(ctx, "router.createTransport", internal, opts); err != nil {
		return nil, err
	}

	transport := newTransport(transportParams{
		internal: internal,
		channel:  r.channel,
		payload:  r.payload,
		logger:   r.logger,
		router:   r,
		destroyed: func(t *Transport) {
			r.removeTransport(t.ID())
		},
	})

	r.mu.Lock()
	if r.life != stateOpen {
		r.mu.Unlock()
		transport.routerClosed()
		return nil, ErrEntityClosed
	}
	r.transports[transport.ID()] = transport
	r.mu.Unlock()

	r.observer.newTransport.emit(transport)

	return transport, nil
}

// Close destroys the router and every transport it owns. Idempotent.
// The router's own close request is best-effort; no requests are issued
// for owned transports or their entities.
func (r *Router) Close() error {
	if !r.beginClose() {
		return nil
	}

	r.closeTransports()
	r.destroyed(r)
	r.finishClose()

	if _, err := r.channel.Request(context.Background(), "router.close", r.internal, nil); err != nil {
		r.logger.Warn("router.close request failed",
			logger.ID("router_id", r.ID()),
			logger.Error(err))
	}

	r.observer.closeSig.emit()
	return nil
}

// workerClosed settles the router after its owning worker was closed.
// Never issues a worker request.
func (r *Router) workerClosed() {
	if !r.beginClose() {
		return
	}

	r.closeTransports()
	r.destroyed(r)
	r.finishClose()

	r.onWorkerClose.emit()
	r.observer.closeSig.emit()
}

func (r *Router) beginClose() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.life != stateOpen {
		return false
	}
	r.life = stateClosing
	return true
}

func (r *Router) finishClose() {
	r.mu.Lock()
	r.life = stateClosed
	r.mu.Unlock()
}

func (r *Router) closeTransports() {
	r.mu.Lock()
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.routerClosed()
	}
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.ID()] = p
}

func (r *Router) producerByID(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) registerDataProducer(dp *DataProducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataProducers[dp.ID()] = dp
}

func (r *Router) dataProducerByID(id string) (*DataProducer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dp, ok := r.dataProducers[id]
	return dp, ok
}

func (r *Router) registerConsumer(c *Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	linked, ok := r.consumersByProducer[c.ProducerID()]
	if !ok {
		linked = make(map[string]*Consumer)
		r.consumersByProducer[c.ProducerID()] = linked
	}
	linked[c.ID()] = c
}

func (r *Router) unregisterConsumer(c *Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if linked, ok := r.consumersByProducer[c.ProducerID()]; ok {
		delete(linked, c.ID())
		if len(linked) == 0 {
			delete(r.consumersByProducer, c.ProducerID())
		}
	}
}

func (r *Router) registerDataConsumer(dc *DataConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	linked, ok := r.dataConsumersByProducer[dc.DataProducerID()]
	if !ok {
		linked = make(map[string]*DataConsumer)
		r.dataConsumersByProducer[dc.DataProducerID()] = linked
	}
	linked[dc.ID()] = dc
}

func (r *Router) unregisterDataConsumer(dc *DataConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if linked, ok := r.dataConsumersByProducer[dc.DataProducerID()]; ok {
		delete(linked, dc.ID())
		if len(linked) == 0 {
			delete(r.dataConsumersByProducer, dc.DataProducerID())
		}
	}
}

// producerDestroyed runs the peer-close cascade: every consumer fed by
// the producer is settled via its producer-closed path. Consumers
// already closed (for example by the same transport closure) are
// skipped idempotently.
func (r *Router) producerDestroyed(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	linked := r.consumersByProducer[id]
	delete(r.consumersByProducer, id)
	consumers := make([]*Consumer, 0, len(linked))
	for _, c := range linked {
		consumers = append(consumers, c)
	}
	r.mu.Unlock()

	for _, c := range consumers {
		c.producerClosed()
	}
}

// dataProducerDestroyed mirrors producerDestroyed for data entities.
func (r *Router) dataProducerDestroyed(id string) {
	r.mu.Lock()
	delete(r.dataProducers, id)
	linked := r.dataConsumersByProducer[id]
	delete(r.dataConsumersByProducer, id)
	dataConsumers := make([]*DataConsumer, 0, len(linked))
	for _, dc := range linked {
		dataConsumers = append(dataConsumers, dc)
	}
	r.mu.Unlock()

	for _, dc := range dataConsumers {
		dc.dataProducerClosed()
	}
}
