package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/peerpair/internal/kvutil"
	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/types"
)

// DefaultKVBucket is the JetStream KV bucket used by NewKVStore when none is given.
const DefaultKVBucket = "peerpair-ledger"

const (
	kvPairingPrefix  = "pairing."
	kvTaskPrefix     = "task."
	kvActivePrefix   = "active."
	kvSettingsPrefix = "settings."
)

// KVStore is a Store backed by a NATS JetStream KV bucket.
//
// Records are stored as JSON under "pairing.<id>". Uniqueness of active
// pairings relies on an "active.<assignment>.<grader>.<recipient>" key that is
// claimed with the atomic KV Create operation, so concurrent writers from
// several processes cannot both win.
type KVStore struct {
	kv     jetstream.KeyValue
	logger types.Logger
}

var _ Store = (*KVStore)(nil)

// NewKVStore opens or creates the ledger bucket and returns a store over it.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - js: JetStream context
//   - bucket: Bucket name (DefaultKVBucket when empty)
//   - logger: Logger (nop when nil)
//
// Returns:
//   - *KVStore: Store over the bucket
//   - error: Bucket creation failure
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	store, err := ledger.NewKVStore(ctx, js, "", logger)
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string, logger types.Logger) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultKVBucket
	}

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "peerpair pairing ledger",
		History:     1,
	}, 3)
	if err != nil {
		return nil, err
	}

	return NewKVStoreFromBucket(kv, logger), nil
}

// NewKVStoreFromBucket wraps an existing KV bucket.
func NewKVStoreFromBucket(kv jetstream.KeyValue, logger types.Logger) *KVStore {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &KVStore{kv: kv, logger: logger}
}

func kvActiveKey(p types.Pairing) string {
	return kvActivePrefix + keyOf(p).String()
}

func kvSettingsKey(courseID, assignmentID int64) string {
	return fmt.Sprintf("%s%d.%d", kvSettingsPrefix, courseID, assignmentID)
}

// PutSettings implements Store.
func (s *KVStore) PutSettings(ctx context.Context, settings types.AssignmentSettings) error {
	if _, err := kvutil.PutJSON(ctx, s.kv, kvSettingsKey(settings.CourseID, settings.AssignmentID), settings); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}

	return nil
}

// Settings implements Store.
func (s *KVStore) Settings(ctx context.Context, courseID, assignmentID int64) (types.AssignmentSettings, error) {
	settings, _, err := kvutil.GetJSON[types.AssignmentSettings](ctx, s.kv, kvSettingsKey(courseID, assignmentID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return types.AssignmentSettings{}, types.ErrCourseNotConfigured
	}
	if err != nil {
		return types.AssignmentSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	return settings, nil
}

// Insert implements Store.
func (s *KVStore) Insert(ctx context.Context, rec types.PairingRecord) error {
	claimed := false
	if rec.Pairing.Active() {
		if err := s.claimActive(ctx, rec.Pairing); err != nil {
			return err
		}
		claimed = true
	}

	if _, err := kvutil.CreateJSON(ctx, s.kv, kvPairingPrefix+rec.Pairing.ID, rec); err != nil {
		if claimed {
			s.releaseActive(ctx, rec.Pairing)
		}

		return fmt.Errorf("failed to store pairing %s: %w", rec.Pairing.ID, err)
	}

	if _, err := s.kv.Put(ctx, kvTaskPrefix+rec.Task.ID, []byte(rec.Pairing.ID)); err != nil {
		return fmt.Errorf("failed to index task %s: %w", rec.Task.ID, err)
	}

	return nil
}

// Update implements Store.
func (s *KVStore) Update(ctx context.Context, rec types.PairingRecord) error {
	old, revision, err := s.load(ctx, rec.Pairing.ID)
	if err != nil {
		return err
	}

	activating := rec.Pairing.Active() && !old.Pairing.Active()
	if activating {
		if err := s.claimActive(ctx, old.Pairing); err != nil {
			return err
		}
	}

	if _, err := kvutil.UpdateJSON(ctx, s.kv, kvPairingPrefix+rec.Pairing.ID, rec, revision); err != nil {
		if activating {
			s.releaseActive(ctx, old.Pairing)
		}

		return fmt.Errorf("failed to update pairing %s: %w", rec.Pairing.ID, err)
	}

	if !rec.Pairing.Active() && old.Pairing.Active() {
		s.releaseActive(ctx, old.Pairing)
	}

	return nil
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, pairingID string) (types.PairingRecord, error) {
	rec, _, err := s.load(ctx, pairingID)
	return rec, err
}

// GetByTask implements Store.
func (s *KVStore) GetByTask(ctx context.Context, taskID string) (types.PairingRecord, error) {
	entry, err := s.kv.Get(ctx, kvTaskPrefix+taskID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return types.PairingRecord{}, types.ErrTaskNotFound
	}
	if err != nil {
		return types.PairingRecord{}, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	return s.Get(ctx, string(entry.Value()))
}

// FindActive implements Store.
func (s *KVStore) FindActive(ctx context.Context, graderID, recipientID types.UserID, assignmentID int64) (types.PairingRecord, error) {
	key := kvActiveKey(types.Pairing{AssignmentID: assignmentID, GraderID: graderID, RecipientID: recipientID})
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return types.PairingRecord{}, types.ErrPairingNotFound
	}
	if err != nil {
		return types.PairingRecord{}, fmt.Errorf("failed to load active key: %w", err)
	}

	return s.Get(ctx, string(entry.Value()))
}

// Delete implements Store.
func (s *KVStore) Delete(ctx context.Context, pairingID string) error {
	rec, _, err := s.load(ctx, pairingID)
	if err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, kvPairingPrefix+pairingID); err != nil {
		return fmt.Errorf("failed to delete pairing %s: %w", pairingID, err)
	}
	if err := s.kv.Delete(ctx, kvTaskPrefix+rec.Task.ID); err != nil {
		s.logger.Warn("failed to delete task index", "task_id", rec.Task.ID, "error", err)
	}
	if rec.Pairing.Active() {
		s.releaseActive(ctx, rec.Pairing)
	}

	return nil
}

// List implements Store.
func (s *KVStore) List(ctx context.Context, filter Filter) ([]types.PairingRecord, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list ledger keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var ids []string
	for key := range lister.Keys() {
		if id, ok := strings.CutPrefix(key, kvPairingPrefix); ok {
			ids = append(ids, id)
		}
	}

	out := make([]types.PairingRecord, 0, len(ids))
	for _, id := range ids {
		rec, _, err := s.load(ctx, id)
		if errors.Is(err, types.ErrPairingNotFound) {
			continue // deleted while listing
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(rec.Pairing) {
			out = append(out, rec)
		}
	}
	sortRecords(out)

	return out, nil
}

func (s *KVStore) load(ctx context.Context, pairingID string) (types.PairingRecord, uint64, error) {
	rec, revision, err := kvutil.GetJSON[types.PairingRecord](ctx, s.kv, kvPairingPrefix+pairingID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return types.PairingRecord{}, 0, types.ErrPairingNotFound
	}
	if err != nil {
		return types.PairingRecord{}, 0, fmt.Errorf("failed to load pairing %s: %w", pairingID, err)
	}

	return rec, revision, nil
}

// claimActive atomically takes the active key of p for p.ID.
func (s *KVStore) claimActive(ctx context.Context, p types.Pairing) error {
	key := kvActiveKey(p)
	_, err := s.kv.Create(ctx, key, []byte(p.ID))
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("failed to claim active key %s: %w", key, err)
	}

	entry, getErr := s.kv.Get(ctx, key)
	if getErr == nil && string(entry.Value()) == p.ID {
		return nil
	}

	s.logger.Debug("active pairing key already claimed", "key", key, "pairing_id", p.ID)

	return types.ErrDuplicatePairing
}

func (s *KVStore) releaseActive(ctx context.Context, p types.Pairing) {
	key := kvActiveKey(p)
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		s.logger.Warn("failed to release active key", "key", key, "error", err)
	}
}
