package logging

const (
	// FieldComponent identifies the subsystem emitting the record.
	FieldComponent = "component"

	// FieldVolumeID carries the provider volume identifier.
	FieldVolumeID = "volume_id"

	// FieldInstanceID carries the compute instance identifier.
	FieldInstanceID = "instance_id"

	// FieldJobID carries the provider job identifier.
	FieldJobID = "job_id"

	// FieldTarget carries the deploy target key string.
	FieldTarget = "target"

	// FieldAttempt carries a retry attempt counter.
	FieldAttempt = "attempt"

	// FieldElapsed carries elapsed wall time for an operation.
	FieldElapsed = "elapsed"

	// FieldEventType tags operator-facing events for alerting pipelines.
	FieldEventType = "event_type"

	// FieldErrorHint suggests the next diagnostic step on warnings/errors.
	FieldErrorHint = "error_hint"

	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)
