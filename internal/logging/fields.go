package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldBatch is the standardized structured logging key for batch numbers.
	FieldBatch = "batch"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldRunID is the standardized structured logging key for flow run identifiers.
	FieldRunID = "run_id"
	// FieldRequestID is the standardized structured logging key for correlation identifiers.
	FieldRequestID = "request_id"
	// FieldEventType labels the kind of event a log line records.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next diagnostic step for an error line.
	FieldErrorHint = "error_hint"
	// FieldAttempt is the retry attempt number for the operation being logged.
	FieldAttempt = "attempt"
	// FieldDuration records elapsed time for a completed operation.
	FieldDuration = "duration"
)
