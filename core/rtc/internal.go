package rtc

// Internal is the immutable identifier bundle addressing an entity in
// the worker. It is fixed at construction, sent with every request for
// the entity, and the entity's own id doubles as its notification
// routing key. Only the fields relevant to the entity kind are set.
type Internal struct {
	RouterID       string `json:"routerId,omitempty"`
	TransportID    string `json:"transportId,omitempty"`
	ProducerID     string `json:"producerId,omitempty"`
	ConsumerID     string `json:"consumerId,omitempty"`
	DataProducerID string `json:"dataProducerId,omitempty"`
	DataConsumerID string `json:"dataConsumerId,omitempty"`
}
