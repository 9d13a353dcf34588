package rtc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mediaproxy/core/channel"
	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// Transport is the local proxy for a worker transport. It is the
// factory and owner of producers, consumers and data entities: closing
// the transport settles every entity it owns locally, without issuing
// per-child worker requests, since the worker discards them along with
// the transport.
type Transport struct {
	internal Internal

	channel *channel.Channel
	payload *channel.PayloadChannel
	logger  *slog.Logger
	router  *Router

	mu            sync.Mutex
	life          lifecycleState
	producers     map[string]*Producer
	consumers     map[string]*Consumer
	dataProducers map[string]*DataProducer
	dataConsumers map[string]*DataConsumer

	onRouterClose signal

	destroyed func(*Transport)

	observer *TransportObserver
}

// TransportObserver mirrors transport lifecycle and entity creation
// events for passive monitoring.
type TransportObserver struct {
	closeSig        signal
	newProducer     emitter[*Producer]
	newConsumer     emitter[*Consumer]
	newDataProducer emitter[*DataProducer]
	newDataConsumer emitter[*DataConsumer]
}

// OnClose fires exactly once when the transport is destroyed.
func (o *TransportObserver) OnClose(fn func()) { o.closeSig.subscribe(fn) }

// OnNewProducer fires when a producer is created on the transport.
func (o *TransportObserver) OnNewProducer(fn func(*Producer)) { o.newProducer.subscribe(fn) }

// OnNewConsumer fires when a consumer is created on the transport.
func (o *TransportObserver) OnNewConsumer(fn func(*Consumer)) { o.newConsumer.subscribe(fn) }

// OnNewDataProducer fires when a data producer is created on the
// transport.
func (o *TransportObserver) OnNewDataProducer(fn func(*DataProducer)) {
	o.newDataProducer.subscribe(fn)
}

// OnNewDataConsumer fires when a data consumer is created on the
// transport.
func (o *TransportObserver) OnNewDataConsumer(fn func(*DataConsumer)) {
	o.newDataConsumer.subscribe(fn)
}

type transportParams struct {
	internal  Internal
	channel   *channel.Channel
	payload   *channel.PayloadChannel
	logger    *slog.Logger
	router    *Router
	destroyed func(*Transport)
}

func newTransport(params transportParams) *Transport {
	return &Transport{
		internal:      params.internal,
		channel:       params.channel,
		payload:       params.payload,
		logger:        params.logger,
		router:        params.router,
		producers:     make(map[string]*Producer),
		consumers:     make(map[string]*Consumer),
		dataProducers: make(map[string]*DataProducer),
		dataConsumers: make(map[string]*DataConsumer),
		destroyed:     params.destroyed,
		observer:      &TransportObserver{},
	}
}

// ID returns the transport id.
func (t *Transport) ID() string { return t.internal.TransportID }

// Closed reports whether the transport has been destroyed.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.life != stateOpen
}

// Observer returns the transport's monitoring facade.
func (t *Transport) Observer() *TransportObserver { return t.observer }

// OnRouterClose registers a listener for the owning router going away.
func (t *Transport) OnRouterClose(fn func()) { t.onRouterClose.subscribe(fn) }

// Produce creates a producer on the transport. The entity id is
// assigned locally and confirmed by the worker.
func (t *Transport) Produce(ctx context.Context, opts ProducerOptions) (*Producer, error) {
	if t.Closed() {
		return nil, ErrEntityClosed
	}

	internal := t.internal
	internal.ProducerID = uuid.NewString()

	data, err := t.channel.Request(ctx, "transport.produce", internal, opts)
	if err != nil {
		return nil, err
	}

	var confirmed struct {
		Paused bool `json:"paused"`
	}
	if len(data) > 0 {
		if err := codec.Unmarshal(data, &confirmed); err != nil {
			return nil, err
		}
	}

	producer, err := newProducer(producerParams{
		internal:      internal,
		kind:          opts.Kind,
		rtpParameters: opts.RTPParameters,
		paused:        opts.Paused || confirmed.Paused,
		channel:       t.channel,
		payload:       t.payload,
		logger:        t.logger,
		destroyed: func(p *Producer) {
			t.removeProducer(p.ID())
			t.router.producerDestroyed(p.ID())
		},
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.life != stateOpen {
		t.mu.Unlock()
		producer.transportClosed()
		return nil, ErrEntityClosed
	}
	t.producers[producer.ID()] = producer
	t.mu.Unlock()

	t.router.registerProducer(producer)
	t.observer.newProducer.emit(producer)

	return producer, nil
}

// Consume creates a consumer fed by the given producer. The worker
// confirms the consumer type, initial pause flags and score used to
// seed the proxy.
func (t *Transport) Consume(ctx context.Context, opts ConsumerOptions) (*Consumer, error) {
	if t.Closed() {
		return nil, ErrEntityClosed
	}

	producer, ok := t.router.producerByID(opts.ProducerID)
	if !ok {
		return nil, ErrProducerNotFound
	}

	internal := t.internal
	internal.ProducerID = opts.ProducerID
	internal.ConsumerID = uuid.NewString()

	data, err := t.channel.Request(ctx, "transport.consume", internal, opts)
	if err != nil {
		return nil, err
	}

	var confirmed struct {
		Type            ConsumerType    `json:"type"`
		RTPParameters   json.RawMessage `json:"rtpParameters,omitempty"`
		Paused          bool            `json:"paused"`
		ProducerPaused  bool            `json:"producerPaused"`
		Score           ConsumerScore   `json:"score"`
		PreferredLayers *ConsumerLayers `json:"preferredLayers,omitempty"`
	}
	if err := codec.Unmarshal(data, &confirmed); err != nil {
		return nil, err
	}

	consumer, err := newConsumer(consumerParams{
		internal:        internal,
		kind:            producer.Kind(),
		typ:             confirmed.Type,
		rtpParameters:   confirmed.RTPParameters,
		paused:          confirmed.Paused,
		producerPaused:  confirmed.ProducerPaused,
		score:           confirmed.Score,
		preferredLayers: confirmed.PreferredLayers,
		channel:         t.channel,
		payload:         t.payload,
		logger:          t.logger,
		destroyed: func(c *Consumer) {
			t.removeConsumer(c.ID())
			t.router.unregisterConsumer(c)
		},
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.life != stateOpen {
		t.mu.Unlock()
		consumer.transportClosed()
		return nil, ErrEntityClosed
	}
	t.consumers[consumer.ID()] = consumer
	t.mu.Unlock()

	t.router.registerConsumer(consumer)
	t.observer.newConsumer.emit(consumer)

	return consumer, nil
}

// ProduceData creates a data producer on the transport.
func (t *Transport) ProduceData(ctx context.Context, opts DataProducerOptions) (*DataProducer, error) {
	if t.Closed() {
		return nil, ErrEntityClosed
	}

	internal := t.internal
	internal.DataProducerID = uuid.NewString()

	if _, err := t.channel.Request(ctx, "transport.produceData", internal, opts); err != nil {
		return nil, err
	}

	dataProducer := newDataProducer(dataProducerParams{
		internal: internal,
		label:    opts.Label,
		protocol: opts.Protocol,
		channel:  t.channel,
		payload:  t.payload,
		logger:   t.logger,
		destroyed: func(dp *DataProducer) {
			t.removeDataProducer(dp.ID())
			t.router.dataProducerDestroyed(dp.ID())
		},
	})

	t.mu.Lock()
	if t.life != stateOpen {
		t.mu.Unlock()
		dataProducer.transportClosed()
		return nil, ErrEntityClosed
	}
	t.dataProducers[dataProducer.ID()] = dataProducer
	t.mu.Unlock()

	t.router.registerDataProducer(dataProducer)
	t.observer.newDataProducer.emit(dataProducer)

	return dataProducer, nil
}

// ConsumeData creates a data consumer fed by the given data producer.
// Label and protocol are inherited from the source.
func (t *Transport) ConsumeData(ctx context.Context, opts DataConsumerOptions) (*DataConsumer, error) {
	if t.Closed() {
		return nil, ErrEntityClosed
	}

	dataProducer, ok := t.router.dataProducerByID(opts.DataProducerID)
	if !ok {
		return nil, ErrDataProducerNotFound
	}

	internal := t.internal
	internal.DataProducerID = opts.DataProducerID
	internal.DataConsumerID = uuid.NewString()

	if _, err := t.channel.Request(ctx, "transport.consumeData", internal, opts); err != nil {
		return nil, err
	}

	dataConsumer, err := newDataConsumer(dataConsumerParams{
		internal: internal,
		label:    dataProducer.Label(),
		protocol: dataProducer.Protocol(),
		channel:  t.channel,
		payload:  t.payload,
		logger:   t.logger,
		destroyed: func(dc *DataConsumer) {
			t.removeDataConsumer(dc.ID())
			t.router.unregisterDataConsumer(dc)
		},
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.life != stateOpen {
		t.mu.Unlock()
		dataConsumer.transportClosed()
		return nil, ErrEntityClosed
	}
	t.dataConsumers[dataConsumer.ID()] = dataConsumer
	t.mu.Unlock()

	t.router.registerDataConsumer(dataConsumer)
	t.observer.newDataConsumer.emit(dataConsumer)

	return dataConsumer, nil
}

// Close destroys the transport and settles every entity it owns.
// Idempotent. The transport's own close request is best-effort; no
// requests are issued for owned entities.
func (t *Transport) Close() error {
	if !t.beginClose() {
		return nil
	}

	t.closeChildren()
	t.destroyed(t)
	t.finishClose()

	if _, err := t.channel.Request(context.Background(), "transport.close", t.internal, nil); err != nil {
		t.logger.Warn("transport.close request failed",
			logger.ID("transport_id", t.ID()),
			logger.Error(err))
	}

	t.observer.closeSig.emit()
	return nil
}

// routerClosed settles the transport after its owning router was
// closed. Never issues a worker request.
func (t *Transport) routerClosed() {
	if !t.beginClose() {
		return
	}

	t.closeChildren()
	t.destroyed(t)
	t.finishClose()

	t.onRouterClose.emit()
	t.observer.closeSig.emit()
}

func (t *Transport) beginClose() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.life != stateOpen {
		return false
	}
	t.life = stateClosing
	return true
}

func (t *Transport) finishClose() {
	t.mu.Lock()
	t.life = stateClosed
	t.mu.Unlock()
}

// closeChildren settles owned entities. Consumers first so they see a
// transport closure rather than the closure of a producer that shares
// the transport; producer teardown then cascades to consumers on other
// transports, where the peer-close path wins idempotently.
func (t *Transport) closeChildren() {
	t.mu.Lock()
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	dataConsumers := make([]*DataConsumer, 0, len(t.dataConsumers))
	for _, dc := range t.dataConsumers {
		dataConsumers = append(dataConsumers, dc)
	}
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	dataProducers := make([]*DataProducer, 0, len(t.dataProducers))
	for _, dp := range t.dataProducers {
		dataProducers = append(dataProducers, dp)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		c.transportClosed()
	}
	for _, dc := range dataConsumers {
		dc.transportClosed()
	}
	for _, p := range producers {
		p.transportClosed()
	}
	for _, dp := range dataProducers {
		dp.transportClosed()
	}
}

func (t *Transport) removeProducer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *Transport) removeConsumer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}

func (t *Transport) removeDataProducer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dataProducers, id)
}

func (t *Transport) removeDataConsumer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dataConsumers, id)
}
