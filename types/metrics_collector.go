package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// Methods are called from job goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	RunMetrics
	PairingMetrics
	JobMetrics
	NotifierMetrics
	IntakeMetrics
}

// RunMetrics defines metrics for orchestration runs.
type RunMetrics interface {
	// RecordRunStateTransition records a run state transition.
	//
	// Parameters:
	//   - kind: Run kind ("automatic", "csv", "ta_allocation", "replace_task", ...)
	//   - from: Previous state
	//   - to: New state
	RecordRunStateTransition(kind string, from, to RunState)

	// RecordRunDuration records the wall time of a finished run.
	//
	// Parameters:
	//   - kind: Run kind
	//   - duration: Time taken in seconds
	//   - success: true if the run finished without error
	RecordRunDuration(kind string, duration float64, success bool)

	// RecordProgressDropped records a progress update dropped for a slow subscriber.
	RecordProgressDropped()
}

// PairingMetrics defines metrics for pairing creation and matching.
type PairingMetrics interface {
	// RecordPairingCreated records a persisted pairing.
	//
	// Parameters:
	//   - kind: Pairing kind
	RecordPairingCreated(kind PairingKind)

	// RecordPairingConflict records a pairing skipped due to a conflict.
	//
	// Parameters:
	//   - reason: Conflict reason ("self", "duplicate", "missing_submission")
	RecordPairingConflict(reason string)

	// RecordMatchingAttempts records how many restarts non-group matching needed.
	//
	// Parameters:
	//   - attempts: Number of attempts including the successful one
	RecordMatchingAttempts(attempts int)
}

// JobMetrics defines metrics for job admission and scheduling.
type JobMetrics interface {
	// RecordAdmission records an admission-control decision.
	//
	// Parameters:
	//   - accepted: false when the run was rejected as a duplicate
	RecordAdmission(accepted bool)

	// RecordActiveJobs sets the number of jobs currently running (gauge metric).
	RecordActiveJobs(count int)

	// RecordScheduledRuns sets the number of pending scheduled runs (gauge metric).
	RecordScheduledRuns(count int)
}

// NotifierMetrics defines metrics for asynchronous notifications.
type NotifierMetrics interface {
	// RecordNotification records a notification delivery outcome.
	//
	// Parameters:
	//   - event: Event name ("pairing_created", "run_completed")
	//   - result: "sent", "failed" or "dropped"
	RecordNotification(event, result string)
}

// IntakeMetrics defines metrics for requests consumed from the JetStream intake.
type IntakeMetrics interface {
	// RecordIntakeMessage records the outcome of one intake message.
	//
	// Parameters:
	//   - kind: Request kind ("automatic", "csv", "schedule", ...)
	//   - result: "accepted", "retried" or "rejected"
	RecordIntakeMessage(kind, result string)
}
