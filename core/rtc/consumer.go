package rtc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/mediaproxy/core/channel"
	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// Consumer is the local proxy for a media consumer living in the
// worker. It receives media from a single producer, referenced by id;
// the consumer never owns the producer's lifecycle, but the producer
// going away closes the consumer.
//
// An entity is "effectively paused" when its own pause flag OR the
// producer's pause flag is set. Observer pause/resume events fire only
// on edges of that combined state, never on redundant transitions.
type Consumer struct {
	internal      Internal
	kind          MediaKind
	typ           ConsumerType
	rtpParameters json.RawMessage

	channel *channel.Channel
	payload *channel.PayloadChannel
	logger  *slog.Logger

	mu              sync.Mutex
	life            lifecycleState
	paused          bool
	producerPaused  bool
	priority        int
	score           ConsumerScore
	preferredLayers *ConsumerLayers
	currentLayers   *ConsumerLayers

	onTransportClose signal
	onProducerClose  signal
	onProducerPause  signal
	onProducerResume signal
	onScore          emitter[ConsumerScore]
	onLayersChange   emitter[*ConsumerLayers]
	onTrace          emitter[TraceEventData]
	onRTP            emitter[[]byte]

	// destroyed runs exactly once on any close path, before the close
	// becomes externally visible, so the owning transport can drop its
	// bookkeeping.
	destroyed func(*Consumer)

	observer *ConsumerObserver
}

// ConsumerObserver mirrors a curated subset of consumer lifecycle
// events for passive monitoring, decoupled from the primary event
// stream.
type ConsumerObserver struct {
	closeSig  signal
	pauseSig  signal
	resumeSig signal
	score     emitter[ConsumerScore]
	layers    emitter[*ConsumerLayers]
	trace     emitter[TraceEventData]
}

// OnClose fires exactly once when the consumer is destroyed, whatever
// the trigger.
func (o *ConsumerObserver) OnClose(fn func()) { o.closeSig.subscribe(fn) }

// OnPause fires when the consumer becomes effectively paused.
func (o *ConsumerObserver) OnPause(fn func()) { o.pauseSig.subscribe(fn) }

// OnResume fires when the consumer stops being effectively paused.
func (o *ConsumerObserver) OnResume(fn func()) { o.resumeSig.subscribe(fn) }

// OnScore fires on every score snapshot from the worker.
func (o *ConsumerObserver) OnScore(fn func(ConsumerScore)) { o.score.subscribe(fn) }

// OnLayersChange fires on every layer selection change; nil means no
// layers are currently being forwarded.
func (o *ConsumerObserver) OnLayersChange(fn func(*ConsumerLayers)) { o.layers.subscribe(fn) }

// OnTrace fires on consumer trace events.
func (o *ConsumerObserver) OnTrace(fn func(TraceEventData)) { o.trace.subscribe(fn) }

// consumerParams carries the worker-confirmed initial state from
// Transport.Consume into the proxy.
type consumerParams struct {
	internal        Internal
	kind            MediaKind
	typ             ConsumerType
	rtpParameters   json.RawMessage
	paused          bool
	producerPaused  bool
	score           ConsumerScore
	preferredLayers *ConsumerLayers
	channel         *channel.Channel
	payload         *channel.PayloadChannel
	logger          *slog.Logger
	destroyed       func(*Consumer)
}

func newConsumer(params consumerParams) (*Consumer, error) {
	c := &Consumer{
		internal:        params.internal,
		kind:            params.kind,
		typ:             params.typ,
		rtpParameters:   params.rtpParameters,
		channel:         params.channel,
		payload:         params.payload,
		logger:          params.logger,
		paused:          params.paused,
		producerPaused:  params.producerPaused,
		priority:        DefaultPriority,
		score:           params.score,
		preferredLayers: params.preferredLayers,
		destroyed:       params.destroyed,
		observer:        &ConsumerObserver{},
	}

	if err := c.channel.Subscribe(c.ID(), c.handleNotification); err != nil {
		return nil, err
	}
	if err := c.payload.Subscribe(c.ID(), c.handlePayload); err != nil {
		c.channel.Unsubscribe(c.ID())
		return nil, err
	}

	return c, nil
}

// ID returns the consumer id.
func (c *Consumer) ID() string { return c.internal.ConsumerID }

// ProducerID returns the id of the producer feeding this consumer.
func (c *Consumer) ProducerID() string { return c.internal.ProducerID }

// Kind returns the consumed media kind.
func (c *Consumer) Kind() MediaKind { return c.kind }

// Type returns how the worker forwards media to this consumer.
func (c *Consumer) Type() ConsumerType { return c.typ }

// RTPParameters returns the opaque RTP parameters confirmed by the
// worker at creation.
func (c *Consumer) RTPParameters() json.RawMessage { return c.rtpParameters }

// Closed reports whether the consumer has been destroyed.
func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.life != stateOpen
}

// Paused reports the consumer's own pause flag.
func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// ProducerPaused reports the pause flag driven by the source producer.
func (c *Consumer) ProducerPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producerPaused
}

// Priority returns the last priority confirmed by the worker.
func (c *Consumer) Priority() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priority
}

// Score returns the last score snapshot reported by the worker.
func (c *Consumer) Score() ConsumerScore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.score
}

// PreferredLayers returns the layer preference last confirmed by the
// worker, nil when unset.
func (c *Consumer) PreferredLayers() *ConsumerLayers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preferredLayers
}

// CurrentLayers returns the layers currently being forwarded, nil when
// none are.
func (c *Consumer) CurrentLayers() *ConsumerLayers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLayers
}

// Observer returns the consumer's monitoring facade.
func (c *Consumer) Observer() *ConsumerObserver { return c.observer }

// OnTransportClose registers a listener for the owning transport going
// away.
func (c *Consumer) OnTransportClose(fn func()) { c.onTransportClose.subscribe(fn) }

// OnProducerClose registers a listener for the source producer going
// away.
func (c *Consumer) OnProducerClose(fn func()) { c.onProducerClose.subscribe(fn) }

// OnProducerPause registers a listener for the source producer pausing.
func (c *Consumer) OnProducerPause(fn func()) { c.onProducerPause.subscribe(fn) }

// OnProducerResume registers a listener for the source producer
// resuming.
func (c *Consumer) OnProducerResume(fn func()) { c.onProducerResume.subscribe(fn) }

// OnScore registers a listener for score snapshots.
func (c *Consumer) OnScore(fn func(ConsumerScore)) { c.onScore.subscribe(fn) }

// OnLayersChange registers a listener for forwarded-layer changes.
func (c *Consumer) OnLayersChange(fn func(*ConsumerLayers)) { c.onLayersChange.subscribe(fn) }

// OnTrace registers a listener for trace events.
func (c *Consumer) OnTrace(fn func(TraceEventData)) { c.onTrace.subscribe(fn) }

// OnRTP registers a listener for forwarded RTP packets arriving on the
// payload channel. Packets received after the consumer is closed are
// dropped, never re-emitted.
func (c *Consumer) OnRTP(fn func([]byte)) { c.onRTP.subscribe(fn) }

// Close destroys the consumer. Idempotent: only the first call has any
// effect. The close request to the worker is best-effort; locally the
// consumer is already gone, so a worker-side failure is logged and
// swallowed.
func (c *Consumer) Close() error {
	if !c.beginClose() {
		return nil
	}

	c.teardown()
	c.destroyed(c)
	c.finishClose()

	if _, err := c.channel.Request(context.Background(), "consumer.close", c.internal, nil); err != nil {
		c.logger.Warn("consumer.close request failed",
			logger.ID("consumer_id", c.ID()),
			logger.Error(err))
	}

	c.observer.closeSig.emit()
	return nil
}

// transportClosed settles the consumer after its owning transport was
// closed. Never issues a worker request: the worker has already
// discarded the consumer along with the transport.
func (c *Consumer) transportClosed() {
	if !c.beginClose() {
		return
	}

	c.teardown()
	c.destroyed(c)
	c.finishClose()

	c.onTransportClose.emit()
	c.observer.closeSig.emit()
}

// producerClosed settles the consumer after its source producer went
// away, via local cascade or worker notification, whichever arrives
// first.
func (c *Consumer) producerClosed() {
	if !c.beginClose() {
		return
	}

	c.teardown()
	c.destroyed(c)
	c.finishClose()

	c.onProducerClose.emit()
	c.observer.closeSig.emit()
}

func (c *Consumer) beginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.life != stateOpen {
		return false
	}
	c.life = stateClosing
	return true
}

func (c *Consumer) finishClose() {
	c.mu.Lock()
	c.life = stateClosed
	c.mu.Unlock()
}

func (c *Consumer) teardown() {
	c.channel.Unsubscribe(c.ID())
	c.payload.Unsubscribe(c.ID())
}

// Pause asks the worker to stop forwarding media and sets the local
// pause flag on success.
func (c *Consumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	wasPaused := c.paused || c.producerPaused
	c.mu.Unlock()

	if _, err := c.channel.Request(ctx, "consumer.pause", c.internal, nil); err != nil {
		return err
	}

	c.mu.Lock()
	// The consumer may have been settled by a close cascade while the
	// request was in flight; frozen state stays untouched.
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	c.paused = true
	c.mu.Unlock()

	if !wasPaused {
		c.observer.pauseSig.emit()
	}
	return nil
}

// Resume asks the worker to resume forwarding and clears the local
// pause flag on success. The observer resume event fires only if the
// consumer actually stops being effectively paused; a producer-side
// pause keeps it held.
func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	wasPaused := c.paused || c.producerPaused
	c.mu.Unlock()

	if _, err := c.channel.Request(ctx, "consumer.resume", c.internal, nil); err != nil {
		return err
	}

	c.mu.Lock()
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	c.paused = false
	stillHeld := c.producerPaused
	c.mu.Unlock()

	if wasPaused && !stillHeld {
		c.observer.resumeSig.emit()
	}
	return nil
}

// SetPriority asks the worker to change the consumer's priority. The
// local value takes whatever the worker echoes back, not the requested
// value.
func (c *Consumer) SetPriority(ctx context.Context, priority int) error {
	c.mu.Lock()
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	c.mu.Unlock()

	data, err := c.channel.Request(ctx, "consumer.setPriority", c.internal,
		map[string]int{"priority": priority})
	if err != nil {
		return err
	}

	var confirmed struct {
		Priority int `json:"priority"`
	}
	if err := codec.Unmarshal(data, &confirmed); err != nil {
		return err
	}

	c.mu.Lock()
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	c.priority = confirmed.Priority
	c.mu.Unlock()
	return nil
}

// UnsetPriority resets the consumer priority to DefaultPriority.
func (c *Consumer) UnsetPriority(ctx context.Context) error {
	return c.SetPriority(ctx, DefaultPriority)
}

// SetPreferredLayers asks the worker to prefer the given layers. The
// local preference is replaced with whatever the worker returns, which
// may be unset if the worker rejects or clears the preference.
func (c *Consumer) SetPreferredLayers(ctx context.Context, layers ConsumerLayers) error {
	c.mu.Lock()
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	c.mu.Unlock()

	data, err := c.channel.Request(ctx, "consumer.setPreferredLayers", c.internal, layers)
	if err != nil {
		return err
	}

	var confirmed *ConsumerLayers
	if len(data) > 0 {
		if err := codec.Unmarshal(data, &confirmed); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	c.preferredLayers = confirmed
	c.mu.Unlock()
	return nil
}

// RequestKeyFrame asks the worker to solicit a key frame from the
// producing endpoint. No local state changes.
func (c *Consumer) RequestKeyFrame(ctx context.Context) error {
	c.mu.Lock()
	if c.life != stateOpen {
		c.mu.Unlock()
		return ErrEntityClosed
	}
	c.mu.Unlock()

	_, err := c.channel.Request(ctx, "consumer.requestKeyFrame", c.internal, nil)
	return err
}

// handleNotification runs on the channel read loop; events for this
// consumer arrive in exact wire order.
func (c *Consumer) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "producerclose":
		c.producerClosed()

	case "producerpause":
		c.mu.Lock()
		if c.life != stateOpen {
			c.mu.Unlock()
			return
		}
		wasPaused := c.paused || c.producerPaused
		c.producerPaused = true
		c.mu.Unlock()

		c.onProducerPause.emit()
		if !wasPaused {
			c.observer.pauseSig.emit()
		}

	case "producerresume":
		c.mu.Lock()
		if c.life != stateOpen {
			c.mu.Unlock()
			return
		}
		wasPaused := c.paused || c.producerPaused
		c.producerPaused = false
		stillHeld := c.paused
		c.mu.Unlock()

		c.onProducerResume.emit()
		if wasPaused && !stillHeld {
			c.observer.resumeSig.emit()
		}

	case "score":
		var score ConsumerScore
		if err := codec.Unmarshal(data, &score); err != nil {
			c.logger.Warn("malformed consumer score notification",
				logger.ID("consumer_id", c.ID()),
				logger.Error(err))
			return
		}

		c.mu.Lock()
		if c.life != stateOpen {
			c.mu.Unlock()
			return
		}
		c.score = score
		c.mu.Unlock()

		// Score snapshots are always re-emitted, no edge filtering.
		c.onScore.emit(score)
		c.observer.score.emit(score)

	case "layerschange":
		var layers *ConsumerLayers
		if len(data) > 0 {
			if err := codec.Unmarshal(data, &layers); err != nil {
				c.logger.Warn("malformed layerschange notification",
					logger.ID("consumer_id", c.ID()),
					logger.Error(err))
				return
			}
		}

		c.mu.Lock()
		if c.life != stateOpen {
			c.mu.Unlock()
			return
		}
		c.currentLayers = layers
		c.mu.Unlock()

		c.onLayersChange.emit(layers)
		c.observer.layers.emit(layers)

	case "trace":
		var trace TraceEventData
		if err := codec.Unmarshal(data, &trace); err != nil {
			c.logger.Warn("malformed trace notification",
				logger.ID("consumer_id", c.ID()),
				logger.Error(err))
			return
		}

		if c.Closed() {
			return
		}
		c.onTrace.emit(trace)
		c.observer.trace.emit(trace)

	default:
		c.logger.Debug("unknown consumer notification ignored",
			logger.ID("consumer_id", c.ID()),
			logger.Event(event))
	}
}

// handlePayload re-emits forwarded packets while the consumer is open
// and silently drops them after closure.
func (c *Consumer) handlePayload(event string, _ json.RawMessage, payload []byte) {
	if c.Closed() {
		return
	}

	switch event {
	case "rtp":
		c.onRTP.emit(payload)
	default:
		c.logger.Debug("unknown consumer payload event ignored",
			logger.ID("consumer_id", c.ID()),
			logger.Event(event))
	}
}
