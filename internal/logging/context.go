package logging

import (
	"context"
	"log/slog"

	"conveyor/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldPipelineID is the standardized structured logging key for pipeline identifiers.
	FieldPipelineID = "pipeline_id"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldJobType is the standardized structured logging key for job type names.
	FieldJobType = "job_type"
	// FieldOwnerID is the standardized structured logging key for submission owners.
	FieldOwnerID = "owner_id"
	// FieldItemRef is the standardized structured logging key for work-item references.
	FieldItemRef = "item_ref"
	// FieldEventType is the standardized structured logging key for engine event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator guidance.
	FieldErrorHint = "error_hint"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.PipelineIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPipelineID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if owner, ok := services.OwnerIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldOwnerID, owner))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
