package rtc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/mediaproxy/core/channel"
	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// DataProducer is the local proxy for a data channel source living in
// the worker. Closing a data producer closes every data consumer fed
// by it.
type DataProducer struct {
	internal Internal
	label    string
	protocol string

	channel *channel.Channel
	payload *channel.PayloadChannel
	logger  *slog.Logger

	mu   sync.Mutex
	life lifecycleState

	onTransportClose signal

	destroyed func(*DataProducer)

	observer *DataProducerObserver
}

// DataProducerObserver mirrors the data producer's close event for
// passive monitoring.
type DataProducerObserver struct {
	closeSig signal
}

// OnClose fires exactly once when the data producer is destroyed.
func (o *DataProducerObserver) OnClose(fn func()) { o.closeSig.subscribe(fn) }

type dataProducerParams struct {
	internal  Internal
	label     string
	protocol  string
	channel   *channel.Channel
	payload   *channel.PayloadChannel
	logger    *slog.Logger
	destroyed func(*DataProducer)
}

func newDataProducer(params dataProducerParams) *DataProducer {
	return &DataProducer{
		internal:  params.internal,
		label:     params.label,
		protocol:  params.protocol,
		channel:   params.channel,
		payload:   params.payload,
		logger:    params.logger,
		destroyed: params.destroyed,
		observer:  &DataProducerObserver{},
	}
}

// ID returns the data producer id.
func (dp *DataProducer) ID() string { return dp.internal.DataProducerID }

// Label returns the application-defined channel label.
func (dp *DataProducer) Label() string { return dp.label }

// Protocol returns the application-defined subprotocol.
func (dp *DataProducer) Protocol() string { return dp.protocol }

// Closed reports whether the data producer has been destroyed.
func (dp *DataProducer) Closed() bool {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.life != stateOpen
}

// Observer returns the data producer's monitoring facade.
func (dp *DataProducer) Observer() *DataProducerObserver { return dp.observer }

// OnTransportClose registers a listener for the owning transport going
// away.
func (dp *DataProducer) OnTransportClose(fn func()) { dp.onTransportClose.subscribe(fn) }

// Close destroys the data producer and, through the owning router,
// every data consumer fed by it. Idempotent; the worker request is
// best-effort.
func (dp *DataProducer) Close() error {
	if !dp.beginClose() {
		return nil
	}

	dp.destroyed(dp)
	dp.finishClose()

	if _, err := dp.channel.Request(context.Background(), "dataProducer.close", dp.internal, nil); err != nil {
		dp.logger.Warn("dataProducer.close request failed",
			logger.ID("data_producer_id", dp.ID()),
			logger.Error(err))
	}

	dp.observer.closeSig.emit()
	return nil
}

// transportClosed settles the data producer after its owning transport
// was closed. Never issues a worker request.
func (dp *DataProducer) transportClosed() {
	if !dp.beginClose() {
		return
	}

	dp.destroyed(dp)
	dp.finishClose()

	dp.onTransportClose.emit()
	dp.observer.closeSig.emit()
}

func (dp *DataProducer) beginClose() bool {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.life != stateOpen {
		return false
	}
	dp.life = stateClosing
	return true
}

func (dp *DataProducer) finishClose() {
	dp.mu.Lock()
	dp.life = stateClosed
	dp.mu.Unlock()
}

// Send pushes a message into the worker over the payload channel.
func (dp *DataProducer) Send(ctx context.Context, message []byte) error {
	if dp.Closed() {
		return ErrEntityClosed
	}
	return dp.payload.Notify(ctx, "dataProducer.send", dp.internal, nil, message)
}
