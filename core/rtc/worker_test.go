package rtc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mediaproxy/core/rtc"
)

func TestWorkerCreateRouter(t *testing.T) {
	t.Parallel()

	worker, fw := newHarness(t)

	var observed *rtc.Router
	worker.Observer().OnNewRouter(func(r *rtc.Router) { observed = r })

	router, err := worker.CreateRouter(context.Background())
	require.NoError(t, err)
	require.NotNil(t, router)
	assert.NotEmpty(t, router.ID())
	assert.False(t, router.Closed())
	assert.Same(t, router, observed)

	req, ok := fw.lastRequest("worker.createRouter")
	require.True(t, ok)
	assert.Equal(t, router.ID(), req.Internal.RouterID)
}

func TestWorkerCreateRouterRejected(t *testing.T) {
	t.Parallel()

	worker, fw := newHarness(t)
	fw.failWith("worker.createRouter", "out of memory")

	_, err := worker.CreateRouter(context.Background())
	assert.Error(t, err)
}

func TestWorkerClose(t *testing.T) {
	t.Parallel()

	worker, fw := newHarness(t)

	router, err := worker.CreateRouter(context.Background())
	require.NoError(t, err)

	workerClosed := 0
	worker.Observer().OnClose(func() { workerClosed++ })

	routerSawWorkerClose := false
	router.OnWorkerClose(func() { routerSawWorkerClose = true })
	routerClosed := false
	router.Observer().OnClose(func() { routerClosed = true })

	require.NoError(t, worker.Close())

	assert.True(t, worker.Closed())
	assert.True(t, router.Closed())
	assert.True(t, routerSawWorkerClose)
	assert.True(t, routerClosed)
	assert.Equal(t, 1, workerClosed)

	// The worker discards everything with its channels: no per-router
	// close requests go out.
	assert.Zero(t, fw.requestCount("router.close"))

	// Close is idempotent.
	require.NoError(t, worker.Close())
	assert.Equal(t, 1, workerClosed)

	_, err = worker.CreateRouter(context.Background())
	assert.ErrorIs(t, err, rtc.ErrEntityClosed)
}
