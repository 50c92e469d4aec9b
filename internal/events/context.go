package events

import (
	"context"
	"os"
	"sync"
)

type contextKey int

const (
	loggerKey contextKey = iota
	drainIDKey
	workerIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithDrainID tags the context (and its logger) with a drain pass id.
func WithDrainID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("drain_id", id)
	ctx = context.WithValue(ctx, drainIDKey, id)
	return WithLogger(ctx, logger)
}

// WithWorkerID tags the context (and its logger) with the acting worker.
func WithWorkerID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("worker_id", id)
	ctx = context.WithValue(ctx, workerIDKey, id)
	return WithLogger(ctx, logger)
}

// GetDrainID retrieves the drain id from context.
func GetDrainID(ctx context.Context) string {
	if id, ok := ctx.Value(drainIDKey).(string); ok {
		return id
	}
	return ""
}

// GetWorkerID retrieves the worker id from context.
func GetWorkerID(ctx context.Context) string {
	if id, ok := ctx.Value(workerIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	mu:     &sync.Mutex{},
	level:  InfoLevel,
	format: "text",
	output: os.Stdout,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
