// Package logging provides a tiny abstraction over slog so engine code can
// depend on a minimal interface (Logger) while callers plug in any
// structured logger. A contextual ChainLogger adds conversation-scoped
// helpers and a stack-capturing error helper for the orchestrator's failure
// path.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
)

// Logger is the minimal logging interface consumed throughout AgentChain.
// Args are alternating key/value pairs in slog style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement Logger.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger { return &SlogAdapter{Logger: logger} }

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger { return NewSlogAdapter(slog.Default()) }

// NoOpLogger discards all log messages. Useful for tests or when logging is
// disabled.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}

// Config configures construction of a ChainLogger.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns a baseline JSON info-level configuration.
func DefaultConfig() *Config {
	return &Config{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// ChainLogger is a contextual structured logger. With* helpers return cheap
// copies carrying extra attributes attached to every entry.
type ChainLogger struct {
	logger *slog.Logger
}

// NewLogger builds a ChainLogger from a config (or defaults if nil).
func NewLogger(cfg *Config) *ChainLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With(slog.String("component", cfg.Component))
	}
	return &ChainLogger{logger: logger}
}

// WithComponent returns a copy tagged with the logical component (runner,
// worker, store, ...).
func (l *ChainLogger) WithComponent(c string) *ChainLogger {
	return &ChainLogger{logger: l.logger.With(slog.String("component", c))}
}

// WithConversation returns a copy tagged with a conversation id.
func (l *ChainLogger) WithConversation(id string) *ChainLogger {
	return &ChainLogger{logger: l.logger.With(slog.String("conversation_id", id))}
}

// Debug logs at debug level.
func (l *ChainLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info logs at info level.
func (l *ChainLogger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs at warn level.
func (l *ChainLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs at error level.
func (l *ChainLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// ErrorWithStack logs an error plus a runtime stack snapshot of the calling
// goroutine.
func (l *ChainLogger) ErrorWithStack(err error, msg string, args ...any) {
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	attrs := append(args, "error", err.Error(), "stack_trace", string(stack[:n]))
	l.logger.Log(context.Background(), slog.LevelError, msg, attrs...)
}
