package events

import (
	"context"
	"os"
)

type loggerKey struct{}
type traceIDKey struct{}
type archiveIDKey struct{}

// FromContext returns the logger stored in ctx, or the process default
// when none was attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithTraceID stamps a run identifier on ctx. The contextual logger
// carries it as trace_id from here down.
func WithTraceID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey{}, id)
	return WithLogger(ctx, FromContext(ctx).WithField("trace_id", id))
}

// WithArchiveID stamps the archive being worked on. The contextual
// logger carries it as archive_id from here down.
func WithArchiveID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, archiveIDKey{}, id)
	return WithLogger(ctx, FromContext(ctx).WithField("archive_id", id))
}

// GetTraceID returns the run identifier on ctx, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// GetArchiveID returns the archive identifier on ctx, or "".
func GetArchiveID(ctx context.Context) string {
	id, _ := ctx.Value(archiveIDKey{}).(string)
	return id
}

var defaultLogger = &Logger{
	level:     InfoLevel,
	format:    "text",
	output:    os.Stdout,
	fields:    make(map[string]interface{}),
	timestamp: true,
}

// SetDefault replaces the logger FromContext falls back to.
func SetDefault(logger *Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}
