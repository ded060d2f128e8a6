package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger wraps slog.Logger with component context
type Logger struct {
	*slog.Logger
	component string
}

// ParseLevel maps a configured level name onto a LogLevel, falling back to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "warning":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// NewLogger creates a new structured logger writing JSON to stdout
func NewLogger(component string, level LogLevel) *Logger {
	return NewLoggerWithWriter(os.Stdout, component, level)
}

// NewLoggerWithWriter creates a structured logger writing JSON to w
func NewLoggerWithWriter(w io.Writer, component string, level LogLevel) *Logger {
	var slogLevel slog.Level
	switch level {
	case LogLevelDebug:
		slogLevel = slog.LevelDebug
	case LogLevelInfo:
		slogLevel = slog.LevelInfo
	case LogLevelWarn:
		slogLevel = slog.LevelWarn
	case LogLevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slogLevel,
	})

	return &Logger{
		Logger:    slog.New(handler),
		component: component,
	}
}

// Discard returns a logger that drops everything. Used by tests and dry runs.
func Discard() *Logger {
	return NewLoggerWithWriter(io.Discard, "discard", LogLevelError)
}

// WithComponent creates a logger for a sub-component sharing the same handler
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger,
		component: component,
	}
}

// Component returns the component name attached to every record
func (l *Logger) Component() string {
	return l.component
}

// Debug logs a debug message with component context
func (l *Logger) Debug(msg string, args ...any) {
	l.Logger.Debug(msg, append([]any{"component", l.component}, args...)...)
}

// Info logs an info message with component context
func (l *Logger) Info(msg string, args ...any) {
	l.Logger.Info(msg, append([]any{"component", l.component}, args...)...)
}

// Warn logs a warning message with component context
func (l *Logger) Warn(msg string, args ...any) {
	l.Logger.Warn(msg, append([]any{"component", l.component}, args...)...)
}

// Error logs an error message with component context
func (l *Logger) Error(msg string, args ...any) {
	l.Logger.Error(msg, append([]any{"component", l.component}, args...)...)
}

// LogStartup logs daemon startup information
func (l *Logger) LogStartup(version, configPath string) {
	l.Info("acquisition scheduler starting",
		"version", version,
		"config", configPath,
		"pid", os.Getpid())
}

// LogWindow logs one scheduled acquisition window
func (l *Logger) LogWindow(start, stop time.Time) {
	l.Debug("acquisition scheduled",
		"start", start.Format(time.RFC3339),
		"stop", stop.Format(time.RFC3339))
}

// LogSuppressed logs an event rejected by the tolerance guard
func (l *Logger) LogSuppressed(action string, bound time.Time, deviation time.Duration) {
	l.Warn("off-schedule, action suppressed",
		"action", action,
		"bound_time", bound.Format(time.RFC3339),
		"deviation", deviation.String())
}

// LogError logs error events with context
func (l *Logger) LogError(operation string, err error, context ...any) {
	args := append([]any{"operation", operation, "error", err.Error()}, context...)
	l.Error("operation failed", args...)
}
