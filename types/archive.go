package types

import (
	"context"
	"time"
)

// AllocationSnapshot is the record of one computed allocation, kept for
// auditing how pairs were chosen.
type AllocationSnapshot struct {
	Kind         string          `json:"kind"`
	CourseID     int64           `json:"courseId"`
	AssignmentID int64           `json:"assignmentId"`
	Rounds       int             `json:"rounds,omitempty"`
	CreatorID    UserID          `json:"creatorId"`
	StudyID      string          `json:"studyId,omitempty"`
	Matches      []SnapshotMatch `json:"matches"`
	Created      int             `json:"created"`
	Skipped      []string        `json:"skipped,omitempty"`
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SnapshotMatch is one grader and the recipients computed for it.
type SnapshotMatch struct {
	GraderID     UserID   `json:"graderId"`
	RecipientIDs []UserID `json:"recipientIds"`
}

// Archive stores allocation snapshots.
//
// Like a Notifier, an Archive never fails an orchestration; errors are logged.
type Archive interface {
	// PutSnapshot stores snap and returns the key it was stored under.
	PutSnapshot(ctx context.Context, snap AllocationSnapshot) (string, error)
}
