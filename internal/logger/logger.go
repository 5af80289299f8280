package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging surface used across seqstate. Packages accept it
// instead of *slog.Logger so tests can swap in buffers or discard output.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// Format names accepted by New.
const (
	FormatPretty = "pretty"
	FormatJSON   = "json"
	FormatText   = "text"
	FormatAuto   = "auto"
)

// SlogLogger adapts slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// FromHandler wraps an arbitrary slog handler.
func FromHandler(handler slog.Handler) Logger {
	return &SlogLogger{logger: slog.New(handler)}
}

// New builds a Logger writing to w in the given format. FormatAuto picks
// pretty output when tty is true and JSON otherwise.
func New(w io.Writer, format string, level slog.Level, tty bool) (Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatAuto, "":
		if tty {
			return Pretty(w, level), nil
		}
		return JSON(w, level), nil
	case FormatPretty:
		return Pretty(w, level), nil
	case FormatJSON:
		return JSON(w, level), nil
	case FormatText:
		return FromHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (expected auto, pretty, json, or text)", format)
	}
}

// Default returns an info-level text logger on stderr.
func Default() Logger {
	return FromHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Discard drops everything. Used by tests and library callers that don't care.
func Discard() Logger {
	return FromHandler(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func JSON(w io.Writer, level slog.Level) Logger {
	return FromHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
}

// Pretty writes colored single-line records, meant for an interactive terminal.
func Pretty(w io.Writer, level slog.Level) Logger {
	return FromHandler(NewPrettyHandler(w, &PrettyOptions{
		HandlerOptions: slog.HandlerOptions{Level: level},
		Color:          true,
	}))
}

// FromContext returns the Logger stored in ctx, or Default.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return Default()
}

func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

type loggerKey struct{}

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

func (l *SlogLogger) WithGroup(name string) Logger {
	return &SlogLogger{logger: l.logger.WithGroup(name)}
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch level {
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
