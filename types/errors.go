package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the peerpair library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// Components wrap them with context using fmt.Errorf("%s: %w", msg, err).
//
// Error taxonomy:
//   - Configuration errors: surfaced before any persistence begins, never retried
//   - Conflict errors: expected and recoverable, skipped per pair by orchestrators
//   - External-dependency errors: roster or token failures, fail the whole run
//   - Invariant violations: fatal for the step, nothing persisted for it

// Configuration errors.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCourseNotConfigured is returned when no assignment settings exist for the assignment.
	ErrCourseNotConfigured = errors.New("assignment not setup for accepting feedback")

	// ErrReviewsExceedStudents is returned when the requested rounds cannot be served
	// by the available recipients.
	ErrReviewsExceedStudents = errors.New("reviews per submission exceeds available students")

	// ErrNotGroupAssignment is returned when a group-only workflow runs on an assignment
	// without a group category.
	ErrNotGroupAssignment = errors.New("assignment is not a group assignment")

	// ErrUsersNotInCourse is returned when explicit pairing names users outside the course roster.
	ErrUsersNotInCourse = errors.New("some usernames are not part of the course")

	// ErrInvalidAllocation is returned when a TA allocation request is malformed.
	ErrInvalidAllocation = errors.New("invalid allocation data format")
)

// Conflict errors.
var (
	// ErrSelfPairing is returned when grader and recipient resolve to the same person.
	ErrSelfPairing = errors.New("grader and recipient can not be the same")

	// ErrDuplicatePairing is returned when an active, non-view-only pairing already
	// exists for the same grader, recipient and assignment.
	ErrDuplicatePairing = errors.New("a pairing between the two people already exists")
)

// Invariant violations.
var (
	// ErrReassignmentMismatch is returned when the total TA surplus differs from the total shortage.
	ErrReassignmentMismatch = errors.New("mismatch in the number of pairs being reassigned")
)

// Job and admission errors.
var (
	// ErrAutomaticPairingExists is returned when an automatic pairing run for the same
	// course, assignment and teacher is already admitted.
	ErrAutomaticPairingExists = errors.New("automatic pairing exists with specified course, assignment and teacher")

	// ErrJobNotFound is returned when a job ID is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrScheduleNotFound is returned when a scheduled run ID is unknown or already fired.
	ErrScheduleNotFound = errors.New("scheduled run not found")

	// ErrRunnerClosed is returned when submitting to a stopped job runner.
	ErrRunnerClosed = errors.New("job runner closed")
)

// Lookup errors.
var (
	// ErrPairingNotFound is returned when a pairing ID is unknown.
	ErrPairingNotFound = errors.New("pairing not found")

	// ErrTaskNotFound is returned when a task ID is unknown.
	ErrTaskNotFound = errors.New("task with the given id couldn't be found")

	// ErrUserNotFound is returned when a user cannot be resolved.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoSuitableRecipient is returned when no eligible recipient is left for a grader.
	ErrNoSuitableRecipient = errors.New("no suitable students found for pairing")
)

// External-dependency errors.
var (
	// ErrRosterUnavailable is returned when the course platform cannot be reached or
	// keeps rejecting credentials after one refresh.
	ErrRosterUnavailable = errors.New("couldn't get the requested information from the course platform")

	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// Service lifecycle errors.
var (
	// ErrAlreadyStarted is returned when Start is called on a running service.
	ErrAlreadyStarted = errors.New("service already started")

	// ErrNotStarted is returned when operations require a started service.
	ErrNotStarted = errors.New("service not started")
)

// IsConflict reports whether err is a per-pair conflict that orchestrators skip.
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true for self-pairing and duplicate-pairing errors
func IsConflict(err error) bool {
	return errors.Is(err, ErrSelfPairing) || errors.Is(err, ErrDuplicatePairing)
}

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
