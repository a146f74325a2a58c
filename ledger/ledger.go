package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/types"
)

// Ledger is the only gate for creating pairings.
//
// Every pairing is created together with the Task and draft Feedback it owns,
// and archiving or deleting a pairing cascades to both explicitly.
type Ledger struct {
	store   Store
	logger  types.Logger
	metrics types.MetricsCollector
	now     func() time.Time
	newID   func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger (default: nop).
func WithLogger(logger types.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector (default: nop).
func WithMetrics(m types.MetricsCollector) Option {
	return func(l *Ledger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Ledger over store.
//
// Parameters:
//   - store: Persistence backend (MemoryStore, KVStore or PostgresStore)
//   - opts: Optional configuration
//
// Returns:
//   - *Ledger: Ready to use ledger
//
// Example:
//
//	l := ledger.New(ledger.NewMemoryStore(), ledger.WithLogger(logger))
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Store returns the backing store.
func (l *Ledger) Store() Store {
	return l.store
}

// CreateRequest describes one pairing to create.
type CreateRequest struct {
	Creator    types.User
	Grader     types.User
	Recipient  types.User
	Assignment types.Assignment
	Kind       types.PairingKind

	// Study is the active blinded study, if any. Pseudonym is only recorded
	// when Study is set.
	Study     *types.Study
	Pseudonym string

	// ViewOnly marks a read-only extra pairing that never collides with others.
	ViewOnly bool
}

// PutSettings stores the pairing settings of an assignment.
func (l *Ledger) PutSettings(ctx context.Context, settings types.AssignmentSettings) error {
	if settings.CourseID == 0 || settings.AssignmentID == 0 {
		return fmt.Errorf("%w: settings need course and assignment", types.ErrInvalidConfig)
	}

	return l.store.PutSettings(ctx, settings)
}

// Settings returns the pairing settings of an assignment.
func (l *Ledger) Settings(ctx context.Context, courseID, assignmentID int64) (types.AssignmentSettings, error) {
	return l.store.Settings(ctx, courseID, assignmentID)
}

// CreatePairing creates a pairing with its PENDING task and draft feedback.
//
// Checks run in order: assignment settings exist, grader and recipient are
// different people, no active pairing exists for the same grader, recipient
// and assignment. A view-only request is rejected when an active pairing
// exists, but view-only pairings never collide with each other.
//
// Parameters:
//   - ctx: Context for the store calls
//   - req: Pairing to create
//
// Returns:
//   - types.Pairing: The created pairing
//   - error: types.ErrCourseNotConfigured, types.ErrSelfPairing,
//     types.ErrDuplicatePairing or a store error
func (l *Ledger) CreatePairing(ctx context.Context, req CreateRequest) (types.Pairing, error) {
	kind := req.Kind
	if kind == "" {
		kind = types.KindStudent
	}
	if !kind.Valid() {
		return types.Pairing{}, fmt.Errorf("%w: unknown pairing kind %q", types.ErrInvalidConfig, kind)
	}

	courseID, assignmentID := req.Assignment.CourseID, req.Assignment.ID
	settings, err := l.store.Settings(ctx, courseID, assignmentID)
	if err != nil {
		return types.Pairing{}, err
	}

	if req.Grader.SameIdentity(req.Recipient) {
		l.metrics.RecordPairingConflict("self")
		return types.Pairing{}, types.ErrSelfPairing
	}

	if req.ViewOnly {
		_, err := l.store.FindActive(ctx, req.Grader.ID, req.Recipient.ID, assignmentID)
		switch {
		case err == nil:
			l.metrics.RecordPairingConflict("duplicate")
			return types.Pairing{}, types.ErrDuplicatePairing
		case !errors.Is(err, types.ErrPairingNotFound):
			return types.Pairing{}, fmt.Errorf("failed to check existing pairing: %w", err)
		}
	}

	now := l.now()
	pairing := types.Pairing{
		ID:           l.newID(),
		Kind:         kind,
		CourseID:     courseID,
		AssignmentID: assignmentID,
		GraderID:     req.Grader.ID,
		RecipientID:  req.Recipient.ID,
		CreatorID:    req.Creator.ID,
		ViewOnly:     req.ViewOnly,
		CreatedAt:    now,
	}
	if req.Study != nil {
		pairing.StudyID = req.Study.ID
		pairing.Pseudonym = req.Pseudonym
	}

	rec := types.PairingRecord{
		Pairing: pairing,
		Task: types.Task{
			ID:           l.newID(),
			PairingID:    pairing.ID,
			UserID:       pairing.GraderID,
			CourseID:     courseID,
			AssignmentID: assignmentID,
			Status:       types.TaskPending,
			DueDate:      settings.DueDate(req.Assignment.DueAt),
			CreatedAt:    now,
		},
		Feedback: types.Feedback{
			ID:           l.newID(),
			PairingID:    pairing.ID,
			Kind:         kind,
			CourseID:     courseID,
			AssignmentID: assignmentID,
			ReviewerID:   pairing.GraderID,
			ReceiverID:   pairing.RecipientID,
			Draft:        true,
			RubricID:     settings.RubricID,
		},
	}

	if err := l.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, types.ErrDuplicatePairing) {
			l.metrics.RecordPairingConflict("duplicate")
			return types.Pairing{}, err
		}

		return types.Pairing{}, fmt.Errorf("failed to store pairing: %w", err)
	}

	l.metrics.RecordPairingCreated(kind)
	l.logger.Debug("pairing created",
		"pairing_id", pairing.ID,
		"kind", kind,
		"assignment_id", assignmentID,
		"grader_id", pairing.GraderID,
		"recipient_id", pairing.RecipientID,
		"view_only", pairing.ViewOnly,
	)

	return pairing, nil
}

// FindExisting returns the active pairing for a grader, recipient and assignment.
//
// Returns:
//   - types.Pairing: The active pairing when found
//   - bool: false when no active pairing exists
//   - error: Store failure
func (l *Ledger) FindExisting(ctx context.Context, graderID, recipientID types.UserID, assignmentID int64) (types.Pairing, bool, error) {
	rec, err := l.store.FindActive(ctx, graderID, recipientID, assignmentID)
	if errors.Is(err, types.ErrPairingNotFound) {
		return types.Pairing{}, false, nil
	}
	if err != nil {
		return types.Pairing{}, false, err
	}

	return rec.Pairing, true, nil
}

// Get returns the record owning a pairing.
func (l *Ledger) Get(ctx context.Context, pairingID string) (types.PairingRecord, error) {
	return l.store.Get(ctx, pairingID)
}

// GetByTask returns the record owning a task.
func (l *Ledger) GetByTask(ctx context.Context, taskID string) (types.PairingRecord, error) {
	return l.store.GetByTask(ctx, taskID)
}

// List returns the records matching filter.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]types.PairingRecord, error) {
	return l.store.List(ctx, filter)
}

// Archive archives a pairing and its task.
func (l *Ledger) Archive(ctx context.Context, pairingID string) (types.PairingRecord, error) {
	return l.SetArchived(ctx, pairingID, true)
}

// SetArchived archives or unarchives a pairing, cascading to its task.
//
// Archiving remembers the task status it archived from. Unarchiving restores
// COMPLETE when the task was complete before archiving and PENDING otherwise.
// Unarchiving fails with types.ErrDuplicatePairing when another active pairing
// took the same grader, recipient and assignment meanwhile.
//
// Parameters:
//   - ctx: Context for the store calls
//   - pairingID: The pairing to change
//   - archived: Target archived flag
//
// Returns:
//   - types.PairingRecord: The updated record
//   - error: types.ErrPairingNotFound, types.ErrDuplicatePairing or a store error
func (l *Ledger) SetArchived(ctx context.Context, pairingID string, archived bool) (types.PairingRecord, error) {
	rec, err := l.store.Get(ctx, pairingID)
	if err != nil {
		return types.PairingRecord{}, err
	}

	if rec.Pairing.Archived == archived {
		return rec, nil
	}

	rec.Pairing.Archived = archived
	if archived {
		if rec.Task.Status != types.TaskArchived {
			rec.Task.ArchivedFrom = rec.Task.Status
			rec.Task.Status = types.TaskArchived
		}
	} else if rec.Task.Status == types.TaskArchived {
		if rec.Task.ArchivedFrom == types.TaskComplete {
			rec.Task.Status = types.TaskComplete
		} else {
			rec.Task.Status = types.TaskPending
		}
		rec.Task.ArchivedFrom = ""
	}

	if err := l.store.Update(ctx, rec); err != nil {
		return types.PairingRecord{}, err
	}

	l.logger.Debug("pairing archive flag changed", "pairing_id", pairingID, "archived", archived, "task_status", rec.Task.Status)

	return rec, nil
}

// ArchiveTask archives the pairing owning a task.
func (l *Ledger) ArchiveTask(ctx context.Context, taskID string) (types.PairingRecord, error) {
	rec, err := l.store.GetByTask(ctx, taskID)
	if err != nil {
		return types.PairingRecord{}, err
	}

	return l.SetArchived(ctx, rec.Pairing.ID, true)
}

// StartReview marks the task of a pairing as in progress.
func (l *Ledger) StartReview(ctx context.Context, pairingID string) (types.PairingRecord, error) {
	return l.updateTask(ctx, pairingID, func(rec *types.PairingRecord) {
		if rec.Task.Status == types.TaskPending {
			rec.Task.Status = types.TaskInProgress
		}
	})
}

// CompleteReview publishes the feedback of a pairing and completes its task.
func (l *Ledger) CompleteReview(ctx context.Context, pairingID string) (types.PairingRecord, error) {
	return l.updateTask(ctx, pairingID, func(rec *types.PairingRecord) {
		rec.Feedback.Draft = false
		rec.Task.Status = types.TaskComplete
	})
}

func (l *Ledger) updateTask(ctx context.Context, pairingID string, mutate func(*types.PairingRecord)) (types.PairingRecord, error) {
	rec, err := l.store.Get(ctx, pairingID)
	if err != nil {
		return types.PairingRecord{}, err
	}
	if rec.Pairing.Archived {
		return types.PairingRecord{}, fmt.Errorf("pairing %s is archived", pairingID)
	}

	mutate(&rec)
	if err := l.store.Update(ctx, rec); err != nil {
		return types.PairingRecord{}, err
	}

	return rec, nil
}

// Delete removes a pairing together with its task and feedback.
func (l *Ledger) Delete(ctx context.Context, pairingID string) error {
	if err := l.store.Delete(ctx, pairingID); err != nil {
		return err
	}
	l.logger.Debug("pairing deleted", "pairing_id", pairingID)

	return nil
}

// ReviewCounts counts active pairings per recipient for an assignment.
// Archived and view-only pairings are not reviews. An empty kind counts
// every kind.
func (l *Ledger) ReviewCounts(ctx context.Context, courseID, assignmentID int64, kind types.PairingKind) (map[types.UserID]int, error) {
	records, err := l.store.List(ctx, Filter{CourseID: courseID, AssignmentID: assignmentID, Kind: kind})
	if err != nil {
		return nil, err
	}

	counts := make(map[types.UserID]int, len(records))
	for _, rec := range records {
		if rec.Pairing.Active() {
			counts[rec.Pairing.RecipientID]++
		}
	}

	return counts, nil
}
