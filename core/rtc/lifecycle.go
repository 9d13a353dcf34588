package rtc

// lifecycleState is the shared entity lifecycle machine:
//
//	stateOpen ──► stateClosing ──► stateClosed
//
// The Open→Closing edge is taken by exactly one trigger (self-close,
// owner-close, or peer-close) regardless of races; losers observe a
// non-Open state and return. Once the state leaves Open the entity's
// local state is frozen and outbound requests are rejected, so only a
// single transition into Closed is ever observable.
//
// Each entity guards its state field with its own mutex; there are no
// cross-entity locks.
type lifecycleState int

const (
	stateOpen lifecycleState = iota
	stateClosing
	stateClosed
)
