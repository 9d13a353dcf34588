package rtc

import "encoding/json"

// MediaKind is the media type carried by a producer or consumer.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// ConsumerType reflects how the worker forwards media to a consumer.
type ConsumerType string

const (
	ConsumerTypeSimple    ConsumerType = "simple"
	ConsumerTypeSimulcast ConsumerType = "simulcast"
	ConsumerTypeSVC       ConsumerType = "svc"
	ConsumerTypePipe      ConsumerType = "pipe"
)

// DefaultPriority is the baseline consumer priority restored by
// Consumer.UnsetPriority.
const DefaultPriority = 1

// ConsumerScore is the worker's transmission quality snapshot for a
// consumer and its source producer.
type ConsumerScore struct {
	Score          int   `json:"score"`
	ProducerScore  int   `json:"producerScore"`
	ProducerScores []int `json:"producerScores,omitempty"`
}

// ConsumerLayers selects or reports spatial/temporal layers for
// simulcast and SVC consumers. A nil Temporal means "no preference".
type ConsumerLayers struct {
	Spatial  int  `json:"spatialLayer"`
	Temporal *int `json:"temporalLayer,omitempty"`
}

// ProducerScore is the worker's quality snapshot for one RTP stream of
// a producer.
type ProducerScore struct {
	SSRC  uint32 `json:"ssrc"`
	RID   string `json:"rid,omitempty"`
	Score int    `json:"score"`
}

// ProducerVideoOrientation reports the orientation advertised by the
// producing endpoint.
type ProducerVideoOrientation struct {
	Camera   bool `json:"camera"`
	Flip     bool `json:"flip"`
	Rotation int  `json:"rotation"`
}

// TraceEventData is a type-specific diagnostic event mirrored to the
// observer facade.
type TraceEventData struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Direction string          `json:"direction"`
	Info      json.RawMessage `json:"info,omitempty"`
}

// TransportOptions configures Router.CreateTransport. Transport-level
// media parameters are opaque to this layer.
type TransportOptions struct {
	// EnableSctp asks the worker to run an SCTP association on the
	// transport, required for data producers/consumers.
	EnableSctp bool `json:"enableSctp,omitempty"`

	// MaxIncomingBitrate caps the worker's receive bitrate on the
	// transport. Zero means no cap.
	MaxIncomingBitrate int `json:"maxIncomingBitrate,omitempty"`
}

// ProducerOptions configures Transport.Produce. RTP parameters are
// negotiated by higher layers and passed through opaquely.
type ProducerOptions struct {
	Kind          MediaKind       `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters,omitempty"`
	Paused        bool            `json:"paused,omitempty"`
}

// ConsumerOptions configures Transport.Consume.
type ConsumerOptions struct {
	// ProducerID references the producer whose media this consumer
	// receives. The consumer holds the reference by id only; it never
	// owns the producer's lifecycle.
	ProducerID string `json:"producerId"`

	// RTPCapabilities of the consuming endpoint, passed through
	// opaquely.
	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`

	// Paused creates the consumer in paused state. Recommended for
	// video so the consuming endpoint can signal readiness first.
	Paused bool `json:"paused,omitempty"`

	// PreferredLayers preselects spatial/temporal layers for simulcast
	// or SVC consumers.
	PreferredLayers *ConsumerLayers `json:"preferredLayers,omitempty"`
}

// DataProducerOptions configures Transport.ProduceData.
type DataProducerOptions struct {
	Label                string          `json:"label,omitempty"`
	Protocol             string          `json:"protocol,omitempty"`
	SctpStreamParameters json.RawMessage `json:"sctpStreamParameters,omitempty"`
}

// DataConsumerOptions configures Transport.ConsumeData.
type DataConsumerOptions struct {
	// DataProducerID references the data producer whose messages this
	// data consumer receives.
	DataProducerID string `json:"dataProducerId"`
}
