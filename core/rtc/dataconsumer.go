package rtc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/mediaproxy/core/channel"
	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// DataConsumer is the local proxy for a data channel sink living in the
// worker. It receives messages from a single data producer, referenced
// by id; the data producer going away closes the data consumer.
type DataConsumer struct {
	internal Internal
	label    string
	protocol string

	channel *channel.Channel
	payload *channel.PayloadChannel
	logger  *slog.Logger

	mu   sync.Mutex
	life lifecycleState

	onTransportClose    signal
	onDataProducerClose signal
	onMessage           emitter[[]byte]

	destroyed func(*DataConsumer)

	observer *DataConsumerObserver
}

// DataConsumerObserver mirrors the data consumer's close event for
// passive monitoring.
type DataConsumerObserver struct {
	closeSig signal
}

// OnClose fires exactly once when the data consumer is destroyed.
func (o *DataConsumerObserver) OnClose(fn func()) { o.closeSig.subscribe(fn) }

type dataConsumerParams struct {
	internal  Internal
	label     string
	protocol  string
	channel   *channel.Channel
	payload   *channel.PayloadChannel
	logger    *slog.Logger
	destroyed func(*DataConsumer)
}

func newDataConsumer(params dataConsumerParams) (*DataConsumer, error) {
	dc := &DataConsumer{
		internal:  params.internal,
		label:     params.label,
		protocol:  params.protocol,
		channel:   params.channel,
		payload:   params.payload,
		logger:    params.logger,
		destroyed: params.destroyed,
		observer:  &DataConsumerObserver{},
	}

	if err := dc.channel.Subscribe(dc.ID(), dc.handleNotification); err != nil {
		return nil, err
	}
	if err := dc.payload.Subscribe(dc.ID(), dc.handlePayload); err != nil {
		dc.channel.Unsubscribe(dc.ID())
		return nil, err
	}

	return dc, nil
}

// ID returns the data consumer id.
func (dc *DataConsumer) ID() string { return dc.internal.DataConsumerID }

// DataProducerID returns the id of the data producer feeding this data
// consumer.
func (dc *DataConsumer) DataProducerID() string { return dc.internal.DataProducerID }

// Label returns the application-defined channel label.
func (dc *DataConsumer) Label() string { return dc.label }

// Protocol returns the application-defined subprotocol.
func (dc *DataConsumer) Protocol() string { return dc.protocol }

// Closed reports whether the data consumer has been destroyed.
func (dc *DataConsumer) Closed() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.life != stateOpen
}

// Observer returns the data consumer's monitoring facade.
func (dc *DataConsumer) Observer() *DataConsumerObserver { return dc.observer }

// OnTransportClose registers a listener for the owning transport going
// away.
func (dc *DataConsumer) OnTransportClose(fn func()) { dc.onTransportClose.subscribe(fn) }

// OnDataProducerClose registers a listener for the source data
// producer going away.
func (dc *DataConsumer) OnDataProducerClose(fn func()) { dc.onDataProducerClose.subscribe(fn) }

// OnMessage registers a listener for messages arriving on the payload
// channel. Messages received after closure are dropped, never
// re-emitted.
func (dc *DataConsumer) OnMessage(fn func([]byte)) { dc.onMessage.subscribe(fn) }

// Close destroys the data consumer. Idempotent; the worker request is
// best-effort.
func (dc *DataConsumer) Close() error {
	if !dc.beginClose() {
		return nil
	}

	dc.teardown()
	dc.destroyed(dc)
	dc.finishClose()

	if _, err := dc.channel.Request(context.Background(), "dataConsumer.close", dc.internal, nil); err != nil {
		dc.logger.Warn("dataConsumer.close request failed",
			logger.ID("data_consumer_id", dc.ID()),
			logger.Error(err))
	}

	dc.observer.closeSig.emit()
	return nil
}

// transportClosed settles the data consumer after its owning transport
// was closed. Never issues a worker request.
func (dc *DataConsumer) transportClosed() {
	if !dc.beginClose() {
		return
	}

	dc.teardown()
	dc.destroyed(dc)
	dc.finishClose()

	dc.onTransportClose.emit()
	dc.observer.closeSig.emit()
}

// dataProducerClosed settles the data consumer after its source data
// producer went away.
func (dc *DataConsumer) dataProducerClosed() {
	if !dc.beginClose() {
		return
	}

	dc.teardown()
	dc.destroyed(dc)
	dc.finishClose()

	dc.onDataProducerClose.emit()
	dc.observer.closeSig.emit()
}

func (dc *DataConsumer) beginClose() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.life != stateOpen {
		return false
	}
	dc.life = stateClosing
	return true
}

func (dc *DataConsumer) finishClose() {
	dc.mu.Lock()
	dc.life = stateClosed
	dc.mu.Unlock()
}

func (dc *DataConsumer) teardown() {
	dc.channel.Unsubscribe(dc.ID())
	dc.payload.Unsubscribe(dc.ID())
}

// GetStats fetches the worker's statistics snapshot for this data
// consumer. The payload shape is worker-defined.
func (dc *DataConsumer) GetStats(ctx context.Context) (json.RawMessage, error) {
	dc.mu.Lock()
	if dc.life != stateOpen {
		dc.mu.Unlock()
		return nil, ErrEntityClosed
	}
	dc.mu.Unlock()

	return dc.channel.Request(ctx, "dataConsumer.getStats", dc.internal, nil)
}

func (dc *DataConsumer) handleNotification(event string, _ json.RawMessage) {
	switch event {
	case "dataproducerclose":
		dc.dataProducerClosed()
	default:
		dc.logger.Debug("unknown data consumer notification ignored",
			logger.ID("data_consumer_id", dc.ID()),
			logger.Event(event))
	}
}

func (dc *DataConsumer) handlePayload(event string, _ json.RawMessage, payload []byte) {
	if dc.Closed() {
		return
	}

	switch event {
	case "message":
		dc.onMessage.emit(payload)
	default:
		dc.logger.Debug("unknown data consumer payload event ignored",
			logger.ID("data_consumer_id", dc.ID()),
			logger.Event(event))
	}
}
