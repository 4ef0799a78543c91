package services

import "context"

type contextKey string

const (
	taskIDKey    contextKey = "task_id"
	blockIDKey   contextKey = "block_id"
	taskTypeKey  contextKey = "task_type"
	workerIDKey  contextKey = "worker_id"
	requestIDKey contextKey = "request_id"
)

// WithTaskID annotates context with the queue task identifier.
func WithTaskID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskIDFromContext extracts the queue task identifier if present.
func TaskIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, taskIDKey)
}

// WithBlockID annotates context with the block a task operates on.
func WithBlockID(ctx context.Context, id int64) context.Context {
	if id <= 0 {
		return ctx
	}
	return context.WithValue(ctx, blockIDKey, id)
}

// BlockIDFromContext extracts the block identifier if present.
func BlockIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, blockIDKey)
}

// WithTaskType annotates context with the task type being executed.
func WithTaskType(ctx context.Context, taskType string) context.Context {
	if taskType == "" {
		return ctx
	}
	return context.WithValue(ctx, taskTypeKey, taskType)
}

// TaskTypeFromContext returns the task type if present.
func TaskTypeFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, taskTypeKey)
}

// WithWorkerID annotates context with the claiming worker identity.
func WithWorkerID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, workerIDKey, id)
}

// WorkerIDFromContext returns the worker identity if present.
func WorkerIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, workerIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, requestIDKey)
}

func int64FromContext(ctx context.Context, key contextKey) (int64, bool) {
	v := ctx.Value(key)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
