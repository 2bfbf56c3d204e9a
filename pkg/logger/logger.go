// Package logger provides the Logger capability the core consumes
// (spec.md §6): a log(level, message) sink over Debug/Info/Warning/Error.
// The core never imports log/slog directly — it only sees this interface —
// so callers can substitute a test double without pulling in a real sink.
package logger

import (
	"log/slog"
	"os"
)

// Level mirrors spec.md §6's four levels.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
)

// Logger is the capability consumed by every core component.
type Logger interface {
	Log(level Level, msg string, args ...any)
}

// Discard is a Logger that drops everything; useful in tests that don't
// care about log output.
var Discard Logger = discard{}

type discard struct{}

func (discard) Log(Level, string, ...any) {}

// Slog adapts the standard library's structured logger to the Logger
// capability, the way the teacher's CLI (cmd/consumption/main.go) calls
// slog.Error/slog.Warn/slog.Info directly.
type Slog struct {
	l *slog.Logger
}

// NewSlog builds a Slog logger writing text-formatted records to w.
func NewSlog(w *os.File, detailed bool) *Slog {
	level := slog.LevelInfo
	if detailed {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Slog{l: slog.New(h)}
}

// NewSlogFile opens path for append and wraps it in a Slog logger,
// mirroring the config's log_file_path sink (spec.md §6).
func NewSlogFile(path string, detailed bool) (*Slog, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return NewSlog(f, detailed), f, nil
}

func (s *Slog) Log(level Level, msg string, args ...any) {
	switch level {
	case Debug:
		s.l.Debug(msg, args...)
	case Info:
		s.l.Info(msg, args...)
	case Warning:
		s.l.Warn(msg, args...)
	case Error:
		s.l.Error(msg, args...)
	default:
		s.l.Info(msg, args...)
	}
}
