// Package logger installs the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Format of log lines
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseLevel parses a level name. Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// ParseFormat parses a format name, text unless it is "json"
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// New builds a logger writing to out at level
func New(out io.Writer, level slog.Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler).With(slog.String("service", "sip_bridge"))
}

// Setup builds the logger and makes it the default
func Setup(out io.Writer, level, format string) *slog.Logger {
	l := New(out, ParseLevel(level), ParseFormat(format))
	slog.SetDefault(l)
	return l
}
