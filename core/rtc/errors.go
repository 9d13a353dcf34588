package rtc

import "errors"

var (
	// ErrEntityClosed is returned when an operation is attempted on an
	// already-closed entity. The worker is never contacted.
	ErrEntityClosed = errors.New("entity is closed")

	// ErrProducerNotFound is returned by Consume when the referenced
	// producer is unknown to the router.
	ErrProducerNotFound = errors.New("producer not found")

	// ErrDataProducerNotFound is returned by ConsumeData when the
	// referenced data producer is unknown to the router.
	ErrDataProducerNotFound = errors.New("data producer not found")
)
