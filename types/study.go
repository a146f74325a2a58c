package types

import (
	"context"
	"slices"
	"time"
)

// Study is a blinded study covering a set of assignments. Pairings between two
// study participants receive a pseudonym while the study is active.
type Study struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	Start         time.Time `json:"start" yaml:"start"`
	End           time.Time `json:"end" yaml:"end"`
	AssignmentIDs []int64   `json:"assignmentIds" yaml:"assignmentIds"`
	Participants  []int64   `json:"participants" yaml:"participants"` // course-platform user IDs
}

// ActiveAt reports whether the study runs at t (exclusive bounds).
func (s Study) ActiveAt(t time.Time) bool {
	return t.After(s.Start) && t.Before(s.End)
}

// Covers reports whether the study links the assignment.
func (s Study) Covers(assignmentID int64) bool {
	return slices.Contains(s.AssignmentIDs, assignmentID)
}

// Includes reports whether the user participates in the study.
func (s Study) Includes(u User) bool {
	return u.ExternalID != 0 && slices.Contains(s.Participants, u.ExternalID)
}

// StudyCatalog lists known studies.
type StudyCatalog interface {
	Studies(ctx context.Context) ([]Study, error)
}

// ActiveStudy returns the first study active at now that covers the assignment.
//
// Parameters:
//   - studies: Candidate studies
//   - assignmentID: The assignment being paired
//   - now: Reference time
//
// Returns:
//   - *Study: The matching study, or nil if none applies
func ActiveStudy(studies []Study, assignmentID int64, now time.Time) *Study {
	for i := range studies {
		if studies[i].ActiveAt(now) && studies[i].Covers(assignmentID) {
			return &studies[i]
		}
	}

	return nil
}
