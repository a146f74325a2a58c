package types

import "time"

// PairingKind identifies who reviews whom in a pairing.
type PairingKind string

const (
	// KindStudent is a student-to-student peer review.
	KindStudent PairingKind = "student"

	// KindTA is a TA reviewing a student.
	KindTA PairingKind = "TA"

	// KindIntraGroup is an intra-group review between members of the same group.
	KindIntraGroup PairingKind = "igr"
)

// Valid reports whether k is a known pairing kind.
func (k PairingKind) Valid() bool {
	switch k {
	case KindStudent, KindTA, KindIntraGroup:
		return true
	default:
		return false
	}
}

// Pairing assigns a grader to review a recipient's submission for one assignment.
//
// A pairing exclusively owns one Task and one Feedback placeholder.
type Pairing struct {
	ID           string      `json:"id"`
	Kind         PairingKind `json:"kind"`
	CourseID     int64       `json:"courseId"`
	AssignmentID int64       `json:"assignmentId"`
	GraderID     UserID      `json:"graderId"`
	RecipientID  UserID      `json:"recipientId"`
	CreatorID    UserID      `json:"creatorId"`
	ViewOnly     bool        `json:"viewOnly,omitempty"`
	Pseudonym    string      `json:"pseudonym,omitempty"`
	StudyID      string      `json:"studyId,omitempty"`
	Archived     bool        `json:"archived,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Active reports whether the pairing takes part in duplicate detection.
func (p Pairing) Active() bool {
	return !p.Archived && !p.ViewOnly
}

// TaskStatus is the lifecycle status of a review task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "INPROGRESS"
	TaskComplete   TaskStatus = "COMPLETE"
	TaskArchived   TaskStatus = "ARCHIVED"
)

// Task is the grader's to-do item created with a pairing.
type Task struct {
	ID           string     `json:"id"`
	PairingID    string     `json:"pairingId"`
	UserID       UserID     `json:"userId"`
	CourseID     int64      `json:"courseId"`
	AssignmentID int64      `json:"assignmentId"`
	Status       TaskStatus `json:"status"`
	ArchivedFrom TaskStatus `json:"archivedFrom,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Feedback is the review placeholder created with a pairing. It stays a draft
// until the grader publishes it.
type Feedback struct {
	ID           string      `json:"id"`
	PairingID    string      `json:"pairingId"`
	Kind         PairingKind `json:"kind"`
	CourseID     int64       `json:"courseId"`
	AssignmentID int64       `json:"assignmentId"`
	ReviewerID   UserID      `json:"reviewerId"`
	ReceiverID   UserID      `json:"receiverId"`
	Draft        bool        `json:"draft"`
	RubricID     int64       `json:"rubricId,omitempty"`
}

// PairingRecord is a pairing together with the records it owns.
type PairingRecord struct {
	Pairing  Pairing  `json:"pairing"`
	Task     Task     `json:"task"`
	Feedback Feedback `json:"feedback"`
}

// DeadlineFormat selects how the task due date is derived.
type DeadlineFormat string

const (
	// DeadlinePlatform derives the due date from the course-platform due date plus an offset.
	DeadlinePlatform DeadlineFormat = "canvas"

	// DeadlineCustom uses an explicit custom deadline.
	DeadlineCustom DeadlineFormat = "custom"
)

// AssignmentSettings is the per-assignment pairing configuration. Pairings can
// only be created for assignments that have settings.
type AssignmentSettings struct {
	CourseID             int64          `json:"courseId" yaml:"courseId"`
	AssignmentID         int64          `json:"assignmentId" yaml:"assignmentId"`
	RubricID             int64          `json:"rubricId,omitempty" yaml:"rubricId,omitempty"`
	DeadlineFormat       DeadlineFormat `json:"deadlineFormat,omitempty" yaml:"deadlineFormat,omitempty"`
	FeedbackDeadlineDays int            `json:"feedbackDeadlineDays,omitempty" yaml:"feedbackDeadlineDays,omitempty"`
	CustomDeadline       *time.Time     `json:"customDeadline,omitempty" yaml:"customDeadline,omitempty"`
	IntraGroupReview     bool           `json:"intraGroupReview,omitempty" yaml:"intraGroupReview,omitempty"`
}

// DueDate computes the task due date for an assignment due at assignmentDue.
//
// Returns nil when the assignment has no due date or the settings carry no
// usable deadline for the selected format.
func (s AssignmentSettings) DueDate(assignmentDue *time.Time) *time.Time {
	if assignmentDue == nil {
		return nil
	}

	if s.DeadlineFormat == DeadlineCustom {
		if s.CustomDeadline == nil {
			return nil
		}
		due := *s.CustomDeadline

		return &due
	}

	if s.FeedbackDeadlineDays <= 0 {
		return nil
	}
	due := assignmentDue.AddDate(0, 0, s.FeedbackDeadlineDays)

	return &due
}
