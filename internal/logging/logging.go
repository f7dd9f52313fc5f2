// Package logging builds the slog loggers used by the mixdata commands.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const timeFormat = "2006-01-02 15:04:05.000Z07:00"

// New returns a logger writing to output. Format "json" selects the JSON
// handler; anything else gets tint's text handler, coloured only when
// output is a terminal.
func New(output io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: lvl}))
	}
	handler := tint.NewHandler(output, &tint.Options{
		Level:      lvl,
		TimeFormat: timeFormat,
		NoColor:    !isTerminal(output),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

// Setup builds a logger on output and installs it as the slog default.
// Lines written through the standard log package, which some libraries
// use for chatter, become debug records.
func Setup(output io.Writer, level, format string) *slog.Logger {
	logger := New(output, level, format)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(slog.LevelDebug)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
