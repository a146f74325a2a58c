package types

import (
	"context"
	"time"
)

// UserID is the local identity of a person. Matching, pairing and
// self-pairing checks all operate on UserID.
type UserID int64

// User is a person known to peerpair.
//
// ExternalID is the course-platform identity; ID is zero until the user has been
// resolved through a Directory.
type User struct {
	ID         UserID `json:"id" yaml:"id"`
	ExternalID int64  `json:"externalId" yaml:"externalId"`
	Username   string `json:"username" yaml:"username"`
	Name       string `json:"name" yaml:"name"`
	Email      string `json:"email" yaml:"email"`
}

// SameIdentity reports whether u and other are the same underlying person,
// matching on either the local or the course-platform identity.
func (u User) SameIdentity(other User) bool {
	if u.ID != 0 && u.ID == other.ID {
		return true
	}

	return u.ExternalID != 0 && u.ExternalID == other.ExternalID
}

// SubmissionState is the course-platform workflow state of a submission.
type SubmissionState string

const (
	SubmissionUnsubmitted SubmissionState = "unsubmitted"
	SubmissionSubmitted   SubmissionState = "submitted"
	SubmissionGraded      SubmissionState = "graded"
)

// Submission is one user's submission status for an assignment.
type Submission struct {
	UserExternalID int64           `json:"userExternalId" yaml:"userExternalId"`
	State          SubmissionState `json:"state" yaml:"state"`
	Score          *float64        `json:"score,omitempty" yaml:"score,omitempty"`
}

// Eligible reports whether the submission can be reviewed.
//
// An unsubmitted submission, and a graded submission scored exactly 0, are
// both ineligible. A graded submission without a score stays eligible.
func (s Submission) Eligible() bool {
	switch s.State {
	case SubmissionUnsubmitted, "":
		return false
	case SubmissionGraded:
		return s.Score == nil || *s.Score != 0
	default:
		return true
	}
}

// Group is a set of users sharing membership, such as a project team.
type Group struct {
	ID      int64  `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Members []User `json:"members,omitempty" yaml:"members,omitempty"`
}

// Course is a course on the course platform.
type Course struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Assignment is a course-platform assignment.
type Assignment struct {
	ID                    int64      `json:"id" yaml:"id"`
	CourseID              int64      `json:"courseId" yaml:"courseId"`
	Name                  string     `json:"name" yaml:"name"`
	DueAt                 *time.Time `json:"dueAt,omitempty" yaml:"dueAt,omitempty"`
	GroupCategoryID       int64      `json:"groupCategoryId,omitempty" yaml:"groupCategoryId,omitempty"`
	IntraGroupPeerReviews bool       `json:"intraGroupPeerReviews,omitempty" yaml:"intraGroupPeerReviews,omitempty"`
}

// HasGroups reports whether the assignment belongs to a group category.
func (a Assignment) HasGroups() bool {
	return a.GroupCategoryID != 0
}

// EnrollmentRole selects which course members an enrollment lookup returns.
type EnrollmentRole string

const (
	RoleStudent EnrollmentRole = "student"
	RoleTA      EnrollmentRole = "ta"
	RoleTeacher EnrollmentRole = "teacher"
)

// RosterProvider supplies roster and submission data from the course platform.
//
// Implementations are bounded external calls. Users returned carry ExternalID
// and Username; their local ID is resolved separately through a Directory.
type RosterProvider interface {
	// Assignment returns the assignment metadata including its due date and group category.
	Assignment(ctx context.Context, courseID, assignmentID int64) (Assignment, error)

	// Submissions returns one entry per enrolled user for the assignment.
	Submissions(ctx context.Context, courseID, assignmentID int64) ([]Submission, error)

	// Groups returns the groups of a group category, without members.
	Groups(ctx context.Context, groupCategoryID int64) ([]Group, error)

	// GroupMembers returns the members of a group.
	GroupMembers(ctx context.Context, groupID int64) ([]User, error)

	// Enrollments returns the course members holding any of the given roles.
	Enrollments(ctx context.Context, courseID int64, roles ...EnrollmentRole) ([]User, error)
}

// Directory resolves course-platform users to local users.
type Directory interface {
	// EnsureUsers returns the local users matching the given users by ExternalID.
	// When createMissing is true, users without a local record are created in bulk.
	// Unknown users are omitted from the result when createMissing is false.
	EnsureUsers(ctx context.Context, users []User, createMissing bool) ([]User, error)

	// User returns the local user with the given ID.
	User(ctx context.Context, id UserID) (User, error)
}
