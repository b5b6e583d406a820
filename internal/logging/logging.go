// Package logging provides a structured logger built on [log/slog].
// It is configured once at startup via [New] and distributed through
// context values using [WithLogger] / [FromContext].
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text | pretty         (default: json)
//
// The pretty format renders coloured, human-oriented lines through
// charmbracelet/log and is meant for local terminals.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// New constructs a [*slog.Logger] from environment variables writing to stderr.
func New() *slog.Logger {
	return NewWithWriter(os.Stderr, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
}

// NewWithWriter constructs a logger for the given format and level names.
func NewWithWriter(w io.Writer, format, level string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "pretty":
		handler = charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Level:           charmlog.Level(lvl),
		})
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx.
// If no logger is present it returns [slog.Default] so callers never
// need to nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// parseLevel converts a string to a [slog.Level], defaulting to Info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
