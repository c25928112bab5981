package services

import "context"

type contextKey string

const (
	pipelineIDKey contextKey = "pipeline_id"
	jobIDKey      contextKey = "job_id"
	ownerIDKey    contextKey = "owner_id"
	itemRefKey    contextKey = "item_ref"
	requestIDKey  contextKey = "request_id"
)

// WithPipelineID annotates context with the pipeline identifier.
func WithPipelineID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, pipelineIDKey, id)
}

// PipelineIDFromContext extracts the pipeline identifier if present.
func PipelineIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(pipelineIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithOwnerID annotates context with the submission owner.
func WithOwnerID(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerIDKey, owner)
}

// OwnerIDFromContext returns the submission owner if present.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(ownerIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithItemRef annotates context with the work-item reference being processed.
func WithItemRef(ctx context.Context, ref string) context.Context {
	if ref == "" {
		return ctx
	}
	return context.WithValue(ctx, itemRefKey, ref)
}

// ItemRefFromContext returns the work-item reference if present.
func ItemRefFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(itemRefKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
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
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
