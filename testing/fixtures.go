package testing

import (
	"fmt"

	"github.com/arloliu/peerpair/types"
)

// Users returns n users named prefix01, prefix02... with external IDs
// starting at firstExternalID. Local IDs are left zero.
func Users(prefix string, firstExternalID int64, n int) []types.User {
	users := make([]types.User, n)
	for i := range n {
		ext := firstExternalID + int64(i)
		users[i] = types.User{
			ExternalID: ext,
			Username:   fmt.Sprintf("%s%02d", prefix, i+1),
			Name:       fmt.Sprintf("%s %d", prefix, i+1),
			Email:      fmt.Sprintf("%s%02d@example.edu", prefix, i+1),
		}
	}

	return users
}

// Students returns n students with external IDs 1..n.
func Students(n int) []types.User {
	return Users("student", 1, n)
}

// Submissions returns one submission in the given state per user.
func Submissions(users []types.User, state types.SubmissionState) []types.Submission {
	subs := make([]types.Submission, len(users))
	for i, u := range users {
		subs[i] = types.Submission{UserExternalID: u.ExternalID, State: state}
	}

	return subs
}

// Graded returns a graded submission with the given score.
func Graded(user types.User, score float64) types.Submission {
	return types.Submission{UserExternalID: user.ExternalID, State: types.SubmissionGraded, Score: &score}
}
