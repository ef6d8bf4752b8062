package services

import "context"

type contextKey string

const (
	queueKey     contextKey = "queue"
	entryIDKey   contextKey = "entry_id"
	sourceKey    contextKey = "source"
	requestIDKey contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithQueue annotates context with the queue name.
func WithQueue(ctx context.Context, name string) context.Context {
	return withString(ctx, queueKey, name)
}

// QueueFromContext returns the queue name if present.
func QueueFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, queueKey)
}

// WithEntryID annotates context with the queue entry identifier.
func WithEntryID(ctx context.Context, id string) context.Context {
	return withString(ctx, entryIDKey, id)
}

// EntryIDFromContext extracts the queue entry identifier if present.
func EntryIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, entryIDKey)
}

// WithSource annotates context with the task name that produced the entry.
func WithSource(ctx context.Context, source string) context.Context {
	return withString(ctx, sourceKey, source)
}

// SourceFromContext returns the task source if present.
func SourceFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, sourceKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
