package log

import (
	"context"
	"log/slog"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// Default wraps slog.Default with a component name.
func Default(component string) *Logger {
	return &Logger{Logger: slog.Default(), component: component}
}

// NewContext returns ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the request context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return Default("unknown")
}

// StructuredLogger provides structured logging methods with context awareness
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogGoalMutation logs a successful change to a goal
func (sl *StructuredLogger) LogGoalMutation(ctx context.Context, op, goalID, goalName string) {
	fields := NewFields().
		WithGoal(goalID, goalName).
		WithOperation(op)
	sl.logger.InfoContext(ctx, "Goal "+op+" applied", fields.ToSlice()...)
}

// LogError logs an error with structured context
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	all := fields.
		WithError(err).
		WithOperation(operation)
	sl.logger.ErrorContext(ctx, msg, all.ToSlice()...)
}
