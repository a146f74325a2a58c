package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/peerpair/types"
)

// MemoryStore is an in-process Store.
//
// Reads are lock-free; writes are serialized so the active index and the
// records never disagree. It backs tests and the CLI preview mode.
type MemoryStore struct {
	mu       sync.Mutex
	records  *xsync.Map[string, types.PairingRecord]
	byTask   *xsync.Map[string, string]
	active   *xsync.Map[activeKey, string]
	settings *xsync.Map[settingsKey, types.AssignmentSettings]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  xsync.NewMap[string, types.PairingRecord](),
		byTask:   xsync.NewMap[string, string](),
		active:   xsync.NewMap[activeKey, string](),
		settings: xsync.NewMap[settingsKey, types.AssignmentSettings](),
	}
}

// PutSettings implements Store.
func (s *MemoryStore) PutSettings(_ context.Context, settings types.AssignmentSettings) error {
	s.settings.Store(settingsKey{courseID: settings.CourseID, assignmentID: settings.AssignmentID}, settings)
	return nil
}

// Settings implements Store.
func (s *MemoryStore) Settings(_ context.Context, courseID, assignmentID int64) (types.AssignmentSettings, error) {
	settings, ok := s.settings.Load(settingsKey{courseID: courseID, assignmentID: assignmentID})
	if !ok {
		return types.AssignmentSettings{}, types.ErrCourseNotConfigured
	}

	return settings, nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, rec types.PairingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records.Load(rec.Pairing.ID); exists {
		return fmt.Errorf("pairing %s already stored", rec.Pairing.ID)
	}

	if rec.Pairing.Active() {
		if _, loaded := s.active.LoadOrStore(keyOf(rec.Pairing), rec.Pairing.ID); loaded {
			return types.ErrDuplicatePairing
		}
	}

	s.records.Store(rec.Pairing.ID, rec)
	s.byTask.Store(rec.Task.ID, rec.Pairing.ID)

	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, rec types.PairingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records.Load(rec.Pairing.ID)
	if !ok {
		return types.ErrPairingNotFound
	}

	key := keyOf(old.Pairing)
	switch {
	case rec.Pairing.Active() && !old.Pairing.Active():
		if owner, loaded := s.active.LoadOrStore(key, rec.Pairing.ID); loaded && owner != rec.Pairing.ID {
			return types.ErrDuplicatePairing
		}
	case !rec.Pairing.Active() && old.Pairing.Active():
		s.active.Delete(key)
	}

	s.records.Store(rec.Pairing.ID, rec)

	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, pairingID string) (types.PairingRecord, error) {
	rec, ok := s.records.Load(pairingID)
	if !ok {
		return types.PairingRecord{}, types.ErrPairingNotFound
	}

	return rec, nil
}

// GetByTask implements Store.
func (s *MemoryStore) GetByTask(ctx context.Context, taskID string) (types.PairingRecord, error) {
	pairingID, ok := s.byTask.Load(taskID)
	if !ok {
		return types.PairingRecord{}, types.ErrTaskNotFound
	}

	return s.Get(ctx, pairingID)
}

// FindActive implements Store.
func (s *MemoryStore) FindActive(ctx context.Context, graderID, recipientID types.UserID, assignmentID int64) (types.PairingRecord, error) {
	pairingID, ok := s.active.Load(activeKey{assignmentID: assignmentID, graderID: graderID, recipientID: recipientID})
	if !ok {
		return types.PairingRecord{}, types.ErrPairingNotFound
	}

	return s.Get(ctx, pairingID)
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, pairingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records.LoadAndDelete(pairingID)
	if !ok {
		return types.ErrPairingNotFound
	}

	s.byTask.Delete(rec.Task.ID)
	if rec.Pairing.Active() {
		s.active.Delete(keyOf(rec.Pairing))
	}

	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]types.PairingRecord, error) {
	var out []types.PairingRecord
	s.records.Range(func(_ string, rec types.PairingRecord) bool {
		if filter.Match(rec.Pairing) {
			out = append(out, rec)
		}

		return true
	})
	sortRecords(out)

	return out, nil
}
