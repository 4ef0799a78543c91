package logging

import (
	"context"
	"log/slog"

	"radiodigest/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldTaskID is the standardized structured logging key for queue task identifiers.
	FieldTaskID = "task_id"
	// FieldTaskType is the standardized structured logging key for task types.
	FieldTaskType = "task_type"
	// FieldBlockID is the standardized structured logging key for block identifiers.
	FieldBlockID = "block_id"
	// FieldWorkerID identifies the worker that holds a task lease.
	FieldWorkerID = "worker_id"
	// FieldProgram is the program key of a reporting unit.
	FieldProgram = "program"
	// FieldReportDate is the reporting date (YYYY-MM-DD) of a reporting unit.
	FieldReportDate = "report_date"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a record for filtering (e.g. claim_lost, task_failed).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the consequence of a warning.
	FieldImpact = "impact"
	// FieldDecisionType names the decision recorded by a log line (e.g. digest_eligibility).
	FieldDecisionType = "decision_type"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.TaskIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldTaskID, id))
	}
	if taskType, ok := services.TaskTypeFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTaskType, taskType))
	}
	if id, ok := services.BlockIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldBlockID, id))
	}
	if worker, ok := services.WorkerIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorkerID, worker))
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
