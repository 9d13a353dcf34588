package rtc

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mediaproxy/core/channel"
	"github.com/dmitrymomot/mediaproxy/core/logger"
)

// Worker is the root handle over an established channel pair to a
// media worker process. Spawning and supervising the process itself is
// out of scope; the caller provides connected channels, typically via
// channel.Connect.
type Worker struct {
	channel *channel.Channel
	payload *channel.PayloadChannel
	logger  *slog.Logger

	mu      sync.Mutex
	life    lifecycleState
	routers map[string]*Router

	observer *WorkerObserver
}

// WorkerObserver mirrors worker lifecycle and router creation events
// for passive monitoring.
type WorkerObserver struct {
	closeSig  signal
	newRouter emitter[*Router]
}

// OnClose fires exactly once when the worker handle is closed.
func (o *WorkerObserver) OnClose(fn func()) { o.closeSig.subscribe(fn) }

// OnNewRouter fires when a router is created on the worker.
func (o *WorkerObserver) OnNewRouter(fn func(*Router)) { o.newRouter.subscribe(fn) }

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger configures structured logging for the worker and
// every entity created under it. Logging is disabled by default.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.logger = log
		}
	}
}

// NewWorker wraps an established channel pair.
//
// Example:
//
//	ch, pch, err := channel.Connect(cfg, nil, nil)
//	if err != nil {
//	    return err
//	}
//
//	worker := rtc.NewWorker(ch, pch, rtc.WithWorkerLogger(logger))
//	defer worker.Close()
func NewWorker(ch *channel.Channel, pch *channel.PayloadChannel, opts ...WorkerOption) *Worker {
	w := &Worker{
		channel:  ch,
		payload:  pch,
		logger:   logger.Noop(),
		routers:  make(map[string]*Router),
		observer: &WorkerObserver{},
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Closed reports whether the worker handle has been closed.
func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.life != stateOpen
}

// Observer returns the worker's monitoring facade.
func (w *Worker) Observer() *WorkerObserver { return w.observer }

// CreateRouter creates a router in the worker. The router id is
// assigned locally and confirmed by the worker.
func (w *Worker) CreateRouter(ctx context.Context) (*Router, error) {
	if w.Closed() {
		return nil, ErrEntityClosed
	}

	internal := Internal{RouterID: uuid.NewString()}

	if _, err := w.channel.Request(ctx, "worker.createRouter", internal, nil); err != nil {
		return nil, err
	}

	router := newRouter(routerParams{
		internal: internal,
		channel:  w.channel,
		payload:  w.payload,
		logger:   w.logger,
		destroyed: func(r *Router) {
			w.removeRouter(r.ID())
		},
	})

	w.mu.Lock()
	if w.life != stateOpen {
		w.mu.Unlock()
		router.workerClosed()
		return nil, ErrEntityClosed
	}
	w.routers[router.ID()] = router
	w.mu.Unlock()

	w.observer.newRouter.emit(router)

	return router, nil
}

// Close settles every router locally and shuts both channels down.
// Idempotent. No per-router worker requests are issued: the worker
// discards everything when its channels go away.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.life != stateOpen {
		w.mu.Unlock()
		return nil
	}
	w.life = stateClosing
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	for _, r := range routers {
		r.workerClosed()
	}

	err := errors.Join(w.payload.Close(), w.channel.Close())

	w.mu.Lock()
	w.life = stateClosed
	w.mu.Unlock()

	w.observer.closeSig.emit()
	return err
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, id)
}
