package peerpair

import (
	"errors"

	"github.com/arloliu/peerpair/types"
)

// Sentinel errors returned by the Service. The domain errors are re-exported
// from the types package so callers only import peerpair.
var (
	ErrInvalidConfig          = types.ErrInvalidConfig
	ErrCourseNotConfigured    = types.ErrCourseNotConfigured
	ErrReviewsExceedStudents  = types.ErrReviewsExceedStudents
	ErrNotGroupAssignment     = types.ErrNotGroupAssignment
	ErrUsersNotInCourse       = types.ErrUsersNotInCourse
	ErrInvalidAllocation      = types.ErrInvalidAllocation
	ErrSelfPairing            = types.ErrSelfPairing
	ErrDuplicatePairing       = types.ErrDuplicatePairing
	ErrReassignmentMismatch   = types.ErrReassignmentMismatch
	ErrAutomaticPairingExists = types.ErrAutomaticPairingExists
	ErrJobNotFound            = types.ErrJobNotFound
	ErrScheduleNotFound       = types.ErrScheduleNotFound
	ErrTaskNotFound           = types.ErrTaskNotFound
	ErrRosterUnavailable      = types.ErrRosterUnavailable
	ErrAlreadyStarted         = types.ErrAlreadyStarted
	ErrNotStarted             = types.ErrNotStarted
)

var (
	// ErrRosterRequired is returned when the roster provider is nil.
	ErrRosterRequired = errors.New("roster provider is required")

	// ErrDirectoryRequired is returned when the user directory is nil.
	ErrDirectoryRequired = errors.New("user directory is required")

	// ErrStoreRequired is returned when the pairing store is nil.
	ErrStoreRequired = errors.New("pairing store is required")

	// ErrNoDueDate is returned when scheduling a run for an assignment without a due date.
	ErrNoDueDate = errors.New("assignment has no due date")
)
