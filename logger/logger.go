// Package logger builds the service's structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents logger output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type config struct {
	output io.Writer
	level  slog.Level
	format Format
	attrs  []any
}

// Option configures logger creation.
type Option func(*config)

// WithLevel parses a level name ("debug", "info", "warn", "error"); unknown names keep info.
func WithLevel(name string) Option {
	return func(c *config) {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err == nil {
			c.level = lvl
		}
	}
}

func WithFormat(f string) Option {
	return func(c *config) {
		switch Format(strings.ToLower(f)) {
		case FormatJSON:
			c.format = FormatJSON
		default:
			c.format = FormatText
		}
	}
}

// WithOutput sets custom output destination, ignoring nil writers.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(args ...any) Option {
	return func(c *config) {
		c.attrs = append(c.attrs, args...)
	}
}

// New creates a slog.Logger writing to stdout in text format at info level unless overridden.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		output: os.Stdout,
		level:  slog.LevelInfo,
		format: FormatText,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var handler slog.Handler
	if cfg.format == FormatJSON {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	}

	l := slog.New(handler)
	if len(cfg.attrs) > 0 {
		l = l.With(cfg.attrs...)
	}
	return l
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Err is shorthand for an "error" attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
