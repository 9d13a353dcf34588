package rtc

import "sync"

// emitter is a minimal typed fan-out for entity events. Listeners are
// invoked synchronously on the emitting goroutine (the channel read
// loop for notification-driven events), preserving wire order.
type emitter[T any] struct {
	mu  sync.RWMutex
	fns []func(T)
}

func (e *emitter[T]) subscribe(fn func(T)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fns = append(e.fns, fn)
}

func (e *emitter[T]) emit(v T) {
	e.mu.RLock()
	fns := e.fns
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// signal is an emitter without a payload.
type signal struct {
	mu  sync.RWMutex
	fns []func()
}

func (s *signal) subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

func (s *signal) emit() {
	s.mu.RLock()
	fns := s.fns
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
