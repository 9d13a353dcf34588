// Package logger provides structured logging utilities built on Go's
// standard slog package: a small factory for configured loggers and
// attribute helpers for the fields this module logs most.
//
// # Basic Usage
//
//	log := logger.New(
//	    logger.WithLevel(slog.LevelDebug),
//	    logger.WithJSONFormatter(),
//	)
//
//	log.Warn("request failed",
//	    logger.Method("transport.produce"),
//	    logger.Error(err),
//	)
//
// Attribute helpers use the empty Attr pattern for nil safety, so
// logger.Error(err) is safe without an explicit nil check.
//
// Noop returns a logger that discards everything; it is the default for
// the channel and rtc packages when no logger is configured.
package logger
