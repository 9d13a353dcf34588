package rtc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/mediaproxy/core/channel"
	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// Producer is the local proxy for a media producer living in the
// worker. Closing a producer closes every consumer fed by it.
type Producer struct {
	internal      Internal
	kind          MediaKind
	rtpParameters json.RawMessage

	channel *channel.Channel
	payload *channel.PayloadChannel
	logger  *slog.Logger

	mu     sync.Mutex
	life   lifecycleState
	paused bool
	score  []ProducerScore

	onTransportClose       signal
	onScore                emitter[[]ProducerScore]
	onVideoOrientationChng emitter[ProducerVideoOrientation]
	onTrace                emitter[TraceEventData]

	destroyed func(*Producer)

	observer *ProducerObserver
}

// ProducerObserver mirrors a curated subset of producer lifecycle
// events for passive monitoring.
type ProducerObserver struct {
	closeSig    signal
	pauseSig    signal
	resumeSig   signal
	score       emitter[[]ProducerScore]
	orientation emitter[ProducerVideoOrientation]
	trace       emitter[TraceEventData]
}

// OnClose fires exactly once when the producer is destroyed.
func (o *ProducerObserver) OnClose(fn func()) { o.closeSig.subscribe(fn) }

// OnPause fires when the producer transitions to paused.
func (o *ProducerObserver) OnPause(fn func()) { o.pauseSig.subscribe(fn) }

// OnResume fires when the producer transitions to unpaused.
func (o *ProducerObserver) OnResume(fn func()) { o.resumeSig.subscribe(fn) }

// OnScore fires on every per-stream score snapshot.
func (o *ProducerObserver) OnScore(fn func([]ProducerScore)) { o.score.subscribe(fn) }

// OnVideoOrientationChange fires when the producing endpoint reports a
// new video orientation.
func (o *ProducerObserver) OnVideoOrientationChange(fn func(ProducerVideoOrientation)) {
	o.orientation.subscribe(fn)
}

// OnTrace fires on producer trace events.
func (o *ProducerObserver) OnTrace(fn func(TraceEventData)) { o.trace.subscribe(fn) }

type producerParams struct {
	internal      Internal
	kind          MediaKind
	rtpParameters json.RawMessage
	paused        bool
	channel       *channel.Channel
	payload       *channel.PayloadChannel
	logger        *slog.Logger
	destroyed     func(*Producer)
}

func newProducer(params producerParams) (*Producer, error) {
	p := &Producer{
		internal:      params.internal,
		kind:          params.kind,
		rtpParameters: params.rtpParameters,
		channel:       params.channel,
		payload:       params.payload,
		logger:        params.logger,
		paused:        params.paused,
		destroyed:     params.destroyed,
		observer:      &ProducerObserver{},
	}

	if err := p.channel.Subscribe(p.ID(), p.handleNotification); err != nil {
		return nil, err
	}

	return p, nil
}

// ID returns the producer id.
func (p *Producer) ID() string { return p.internal.ProducerID }

// Kind returns the produced media kind.
func (p *Producer) Kind() MediaKind { return p.kind }

// RTPParameters returns the opaque RTP parameters confirmed by the
// worker at creation.
func (p *Producer) RTPParameters() json.RawMessage { return p.rtpParameters }

// Closed reports whether the producer has been destroyed.
func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.life != stateOpen
}

// Paused reports the producer's pause flag.
func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Score returns the last per-stream score snapshot.
func (p *Producer) Score() []ProducerScore {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.score
}

// Observer returns the producer's monitoring facade.
func (p *Producer) Observer() *ProducerObserver { return p.observer }

// OnTransportClose registers a listener for the owning transport going
// away.
func (p *Producer) OnTransportClose(fn func()) { p.onTransportClose.subscribe(fn) }

// OnScore registers a listener for per-stream score snapshots.
func (p *Producer) OnScore(fn func([]ProducerScore)) { p.onScore.subscribe(fn) }

// OnVideoOrientationChange registers a listener for orientation
// changes reported by the producing endpoint.
func (p *Producer) OnVideoOrientationChange(fn func(ProducerVideoOrientation)) {
	p.onVideoOrientationChng.subscribe(fn)
}

// OnTrace registers a listener for trace events.
func (p *Producer) OnTrace(fn func(TraceEventData)) { p.onTrace.subscribe(fn) }

// Close destroys the producer and, through the owning router, every
// consumer fed by it. Idempotent. The close request to the worker is
// best-effort; a worker-side failure is logged and swallowed.
func (p *Producer) Close() error {
	if !p.beginClose() {
		return nil
	}

	p.teardown()
	p.destroyed(p)
	p.finishClose()

	if _, err := p.channel.Request(context.Background(), "producer.close", p.internal, nil); err != nil {
		p.logger.Warn("producer.close request failed",
			logger.ID("producer_id", p.ID()),
			logger.Error(err))
	}

	p.observer.closeSig.emit()
	return nil
}

// transportClosed settles the producer after its owning transport was
// closed. Never issues a worker request.
func (p *Producer) transportClosed() {
	if !p.beginClose() {
		return
	}

	p.teardown()
	p.destroyed(p)
	p.finishClose()

	p.onTransportClose.emit()
	p.observer.closeSig.emit()
}

func (p *Producer) beginClose() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.life != stateOpen {
		return false
	}
	p.life = stateClosing
	return true
}

func (p *Producer) finishClose() {
	p.mu.Lock()
	p.life = stateClosed
	p.mu.Unlock()
}

func (p *Producer) teardown() {
	p.channel.Unsubscribe(p.ID())
}

// Pause asks the worker to stop accepting media from the producing
// endpoint.
func (p *Producer) Pause(ctx context.Context) error {
	p.mu.Lock()
	if p.life != stateOpen {
		p.mu.Unlock()
		return ErrEntityClosed
	}
	wasPaused := p.paused
	p.mu.Unlock()

	if _, err := p.channel.Request(ctx, "producer.pause", p.internal, nil); err != nil {
		return err
	}

	p.mu.Lock()
	// The producer may have been settled by a close cascade while the
	// request was in flight; frozen state stays untouched.
	if p.life != stateOpen {
		p.mu.Unlock()
		return ErrEntityClosed
	}
	p.paused = true
	p.mu.Unlock()

	if !wasPaused {
		p.observer.pauseSig.emit()
	}
	return nil
}

// Resume asks the worker to resume accepting media.
func (p *Producer) Resume(ctx context.Context) error {
	p.mu.Lock()
	if p.life != stateOpen {
		p.mu.Unlock()
		return ErrEntityClosed
	}
	wasPaused := p.paused
	p.mu.Unlock()

	if _, err := p.channel.Request(ctx, "producer.resume", p.internal, nil); err != nil {
		return err
	}

	p.mu.Lock()
	if p.life != stateOpen {
		p.mu.Unlock()
		return ErrEntityClosed
	}
	p.paused = false
	p.mu.Unlock()

	if wasPaused {
		p.observer.resumeSig.emit()
	}
	return nil
}

// Send injects an RTP packet into the worker over the payload channel.
// Only meaningful for producers created on direct transports.
func (p *Producer) Send(ctx context.Context, rtp []byte) error {
	if p.Closed() {
		return ErrEntityClosed
	}
	return p.payload.Notify(ctx, "producer.send", p.internal, nil, rtp)
}

func (p *Producer) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "score":
		var score []ProducerScore
		if err := codec.Unmarshal(data, &score); err != nil {
			p.logger.Warn("malformed producer score notification",
				logger.ID("producer_id", p.ID()),
				logger.Error(err))
			return
		}

		p.mu.Lock()
		// Close may complete between the router dispatching this event
		// and the handler running; frozen state stays untouched.
		if p.life != stateOpen {
			p.mu.Unlock()
			return
		}
		p.score = score
		p.mu.Unlock()

		p.onScore.emit(score)
		p.observer.score.emit(score)

	case "videoorientationchange":
		var orientation ProducerVideoOrientation
		if err := codec.Unmarshal(data, &orientation); err != nil {
			p.logger.Warn("malformed videoorientationchange notification",
				logger.ID("producer_id", p.ID()),
				logger.Error(err))
			return
		}

		if p.Closed() {
			return
		}
		p.onVideoOrientationChng.emit(orientation)
		p.observer.orientation.emit(orientation)

	case "trace":
		var trace TraceEventData
		if err := codec.Unmarshal(data, &trace); err != nil {
			p.logger.Warn("malformed trace notification",
				logger.ID("producer_id", p.ID()),
				logger.Error(err))
			return
		}

		if p.Closed() {
			return
		}
		p.onTrace.emit(trace)
		p.observer.trace.emit(trace)

	default:
		p.logger.Debug("unknown producer notification ignored",
			logger.ID("producer_id", p.ID()),
			logger.Event(event))
	}
}
