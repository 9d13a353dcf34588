package logger

import (
	"io"
	"log/slog"
	"os"
)

type config struct {
	level  slog.Level
	output io.Writer
	json   bool
	attrs  []slog.Attr
}

// Option configures the logger factory.
type Option func(*config)

// WithLevel sets the minimum level the logger emits.
func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithOutput redirects the logger output. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithJSONFormatter switches the logger to JSON output.
func WithJSONFormatter() Option {
	return func(c *config) {
		c.json = true
	}
}

// WithTextFormatter switches the logger to text output, the default.
func WithTextFormatter() Option {
	return func(c *config) {
		c.json = false
	}
}

// WithAttrs attaches attributes to every record the logger emits.
func WithAttrs(attrs ...slog.Attr) Option {
	return func(c *config) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// New creates a configured slog logger. Without options it logs text at
// info level to stdout.
func New(opts ...Option) *slog.Logger {
	cfg := config{
		level:  slog.LevelInfo,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var handler slog.Handler
	if cfg.json {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	}

	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}

	return slog.New(handler)
}

// Noop returns a logger that discards every record.
func Noop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
