package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Identity and context
	FieldJobID       = "job_id"
	FieldParentJobID = "parent_job_id"
	FieldWorkerID    = "worker_id"
	FieldHandler     = "handler"

	// Components
	FieldComponent = "component"

	// Descriptor
	FieldNamespace      = "namespace"
	FieldTable          = "table"
	FieldFilter         = "filter"
	FieldAddress        = "address"
	FieldPrincipal      = "principal"
	FieldFingerprint    = "fingerprint"
	FieldPartition      = "partition"
	FieldPartitionCount = "partition_count"
	FieldLocation       = "location"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"

	// Status
	FieldStatus = "status"

	// Files and paths
	FieldPath = "path"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	componentKey contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of the global logger.
//
// Example:
//
//	resolver := inputjob.NewResolver(catalog, inputjob.WithLogger(logger.ComponentLogger("resolver")))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
