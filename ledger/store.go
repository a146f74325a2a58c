package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/arloliu/peerpair/types"
)

// Store persists pairing records and assignment settings.
//
// Implementations must enforce the active-pairing uniqueness atomically: at
// most one record whose pairing is Active() may exist per (assignment, grader,
// recipient). Insert and Update return types.ErrDuplicatePairing when a write
// would break that rule.
type Store interface {
	// PutSettings creates or replaces the settings of one assignment.
	PutSettings(ctx context.Context, settings types.AssignmentSettings) error

	// Settings returns the settings of an assignment, or types.ErrCourseNotConfigured.
	Settings(ctx context.Context, courseID, assignmentID int64) (types.AssignmentSettings, error)

	// Insert stores a new record.
	Insert(ctx context.Context, rec types.PairingRecord) error

	// Update replaces an existing record. The (assignment, grader, recipient)
	// triple of a pairing never changes.
	Update(ctx context.Context, rec types.PairingRecord) error

	// Get returns the record owning the pairing, or types.ErrPairingNotFound.
	Get(ctx context.Context, pairingID string) (types.PairingRecord, error)

	// GetByTask returns the record owning the task, or types.ErrTaskNotFound.
	GetByTask(ctx context.Context, taskID string) (types.PairingRecord, error)

	// FindActive returns the active record for the triple, or types.ErrPairingNotFound.
	FindActive(ctx context.Context, graderID, recipientID types.UserID, assignmentID int64) (types.PairingRecord, error)

	// Delete removes the pairing together with its task and feedback.
	Delete(ctx context.Context, pairingID string) error

	// List returns the records matching filter ordered by creation time.
	List(ctx context.Context, filter Filter) ([]types.PairingRecord, error)
}

// Filter selects pairing records for Store.List.
//
// Zero values match everything, except that archived pairings are only
// returned when IncludeArchived is set.
type Filter struct {
	CourseID        int64
	AssignmentID    int64
	Kind            types.PairingKind
	GraderID        types.UserID
	RecipientID     types.UserID
	IncludeArchived bool
}

// Match reports whether p passes the filter.
func (f Filter) Match(p types.Pairing) bool {
	switch {
	case f.CourseID != 0 && p.CourseID != f.CourseID:
		return false
	case f.AssignmentID != 0 && p.AssignmentID != f.AssignmentID:
		return false
	case f.Kind != "" && p.Kind != f.Kind:
		return false
	case f.GraderID != 0 && p.GraderID != f.GraderID:
		return false
	case f.RecipientID != 0 && p.RecipientID != f.RecipientID:
		return false
	case p.Archived && !f.IncludeArchived:
		return false
	default:
		return true
	}
}

type activeKey struct {
	assignmentID int64
	graderID     types.UserID
	recipientID  types.UserID
}

func keyOf(p types.Pairing) activeKey {
	return activeKey{assignmentID: p.AssignmentID, graderID: p.GraderID, recipientID: p.RecipientID}
}

func (k activeKey) String() string {
	return fmt.Sprintf("%d.%d.%d", k.assignmentID, k.graderID, k.recipientID)
}

type settingsKey struct {
	courseID     int64
	assignmentID int64
}

func sortRecords(records []types.PairingRecord) {
	slices.SortFunc(records, func(a, b types.PairingRecord) int {
		if c := a.Pairing.CreatedAt.Compare(b.Pairing.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.Pairing.ID, b.Pairing.ID)
	})
}
