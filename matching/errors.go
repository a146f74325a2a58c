package matching

import "errors"

var (
	// ErrInvalidRounds indicates the round count is not below the population sizes.
	ErrInvalidRounds = errors.New("no. of reviews cannot be greater than or equal to the total number of students")

	// ErrConfiguration indicates missing matching input such as empty groups or recipients.
	ErrConfiguration = errors.New("invalid matching configuration")

	// ErrCountMismatch indicates bucket targets do not add up to the population size.
	ErrCountMismatch = errors.New("allotted count does not match available population")

	// ErrConvergence indicates non-group matching could not reach every recipient
	// within the allowed attempts.
	ErrConvergence = errors.New("matching did not converge")
)
