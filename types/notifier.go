package types

import (
	"context"
	"time"
)

// RunSummary describes the outcome of one orchestration run.
type RunSummary struct {
	JobID        string    `json:"jobId"`
	Kind         string    `json:"kind"`
	CourseID     int64     `json:"courseId"`
	AssignmentID int64     `json:"assignmentId"`
	Created      int       `json:"created"`
	Skipped      []string  `json:"skipped,omitempty"`
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Notifier receives fire-and-forget events from orchestrators.
//
// Errors returned by a Notifier are logged and never fail the orchestration.
type Notifier interface {
	// PairingCreated is called after a pairing has been persisted.
	PairingCreated(ctx context.Context, pairing Pairing) error

	// RunCompleted is called once an orchestration run finished, successfully or not.
	RunCompleted(ctx context.Context, summary RunSummary) error
}
