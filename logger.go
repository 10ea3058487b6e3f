package usertcp

import (
	"context"
	"log/slog"
)

// LevelTrace is below slog.LevelDebug, used for per-segment chatter
// (sequence-number bookkeeping, retransmit scheduling) that would otherwise
// drown out state-transition logging at LevelDebug.
const LevelTrace = slog.Level(-8)

// Logger wraps a *slog.Logger so every call site can log unconditionally;
// a nil *Logger, or one wrapping a nil *slog.Logger, silently drops all
// messages instead of requiring a nil check at every call site.
type Logger struct {
	log *slog.Logger
}

// NewLogger wraps log. A nil argument is valid and yields a no-op Logger.
func NewLogger(log *slog.Logger) *Logger { return &Logger{log: log} }

func (l *Logger) enabled(level slog.Level) bool {
	return l != nil && l.log != nil && l.log.Enabled(context.Background(), level)
}

func (l *Logger) Trace(msg string, args ...any) {
	if l.enabled(LevelTrace) {
		l.log.Log(context.Background(), LevelTrace, msg, args...)
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	if l.enabled(slog.LevelDebug) {
		l.log.Debug(msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if l.enabled(slog.LevelInfo) {
		l.log.Info(msg, args...)
	}
}

func (l *Logger) Error(msg string, args ...any) {
	if l.enabled(slog.LevelError) {
		l.log.Error(msg, args...)
	}
}
