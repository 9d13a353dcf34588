package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// Returns an empty Attr for nil errors, enabling safe usage without nil
// checks.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Method creates an attribute for a worker method name.
func Method(method string) slog.Attr {
	return slog.String("method", method)
}

// Event creates an attribute for a notification event name.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// TargetID creates an attribute for a notification target entity id.
func TargetID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("target_id", id)
}

// CorrelationID creates an attribute for a request correlation id.
func CorrelationID(id uint32) slog.Attr {
	return slog.Uint64("correlation_id", uint64(id))
}

// ID creates a generic identifier attribute with a custom key.
func ID(key, value string) slog.Attr {
	if value == "" {
		return slog.Attr{}
	}
	return slog.String(key, value)
}

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed calculates and logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
