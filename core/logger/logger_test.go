package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mediaproxy/core/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("writes text records to the configured output", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf))

		log.Info("channel connected", logger.Component("channel"))

		out := buf.String()
		assert.Contains(t, out, "channel connected")
		assert.Contains(t, out, "component=channel")
	})

	t.Run("filters below the configured level", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelWarn))

		log.Debug("noise")
		log.Info("more noise")
		log.Warn("signal")

		out := buf.String()
		assert.NotContains(t, out, "noise")
		assert.Contains(t, out, "signal")
	})

	t.Run("emits JSON with persistent attributes", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithJSONFormatter(),
			logger.WithAttrs(slog.String("service", "mediaproxy")),
		)

		log.Info("worker ready")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "worker ready", record["msg"])
		assert.Equal(t, "mediaproxy", record["service"])
	})
}

func TestNoop(t *testing.T) {
	t.Parallel()

	// Must be safe at every level without output or panic.
	log := logger.Noop()
	log.Debug("dropped")
	log.Error("dropped too", logger.Error(errors.New("boom")))
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	t.Run("error attr is nil-safe", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, slog.Attr{}, logger.Error(nil))

		attr := logger.Error(errors.New("boom"))
		assert.Equal(t, "error", attr.Key)
	})

	t.Run("string attrs drop empty values", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, slog.Attr{}, logger.TargetID(""))
		assert.Equal(t, slog.Attr{}, logger.ID("consumer_id", ""))

		attr := logger.ID("consumer_id", "c1")
		assert.Equal(t, "consumer_id", attr.Key)
		assert.Equal(t, "c1", attr.Value.String())
	})

	t.Run("method and event attrs use fixed keys", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "method", logger.Method("worker.createRouter").Key)
		assert.Equal(t, "event", logger.Event("producerclose").Key)
		assert.Equal(t, "correlation_id", logger.CorrelationID(7).Key)
	})
}
