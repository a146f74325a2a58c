package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/peerpair/internal/kvutil"
	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/types"
)

// AdmissionKey identifies an automatic run. At most one run per key may be
// pending or running at a time.
type AdmissionKey struct {
	CourseID     int64        `json:"courseId"`
	AssignmentID int64        `json:"assignmentId"`
	TeacherID    types.UserID `json:"teacherId"`
}

// String returns the key as "course.assignment.teacher".
func (k AdmissionKey) String() string {
	return fmt.Sprintf("%d.%d.%d", k.CourseID, k.AssignmentID, k.TeacherID)
}

// Admission is the table of in-flight automatic runs.
//
// Acquire must be atomic: of two concurrent callers for the same key exactly
// one succeeds and the other gets types.ErrAutomaticPairingExists.
type Admission interface {
	// Acquire records jobID as the holder of key.
	Acquire(ctx context.Context, key AdmissionKey, jobID string) error

	// Release frees key if jobID still holds it.
	Release(ctx context.Context, key AdmissionKey, jobID string) error

	// Holder returns the job holding key, if any.
	Holder(ctx context.Context, key AdmissionKey) (string, bool, error)
}

// MemoryAdmission is a process-local admission table.
type MemoryAdmission struct {
	held *xsync.Map[AdmissionKey, string]
}

var _ Admission = (*MemoryAdmission)(nil)

// NewMemoryAdmission creates an empty in-memory admission table.
func NewMemoryAdmission() *MemoryAdmission {
	return &MemoryAdmission{held: xsync.NewMap[AdmissionKey, string]()}
}

// Acquire implements Admission.
func (m *MemoryAdmission) Acquire(_ context.Context, key AdmissionKey, jobID string) error {
	if holder, loaded := m.held.LoadOrStore(key, jobID); loaded && holder != jobID {
		return fmt.Errorf("%w: held by job %s", types.ErrAutomaticPairingExists, holder)
	}

	return nil
}

// Release implements Admission.
func (m *MemoryAdmission) Release(_ context.Context, key AdmissionKey, jobID string) error {
	m.held.Compute(key, func(holder string, loaded bool) (string, xsync.ComputeOp) {
		if loaded && holder == jobID {
			return "", xsync.DeleteOp
		}

		return holder, xsync.CancelOp
	})

	return nil
}

// Holder implements Admission.
func (m *MemoryAdmission) Holder(_ context.Context, key AdmissionKey) (string, bool, error) {
	holder, ok := m.held.Load(key)
	return holder, ok, nil
}

// DefaultAdmissionBucket is the KV bucket used by KVAdmission.
const DefaultAdmissionBucket = "peerpair-admission"

type admissionEntry struct {
	JobID      string    `json:"jobId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	RenewedAt  time.Time `json:"renewedAt"`
}

type lease struct {
	stopCh chan struct{}
	doneCh chan struct{}
}

// KVAdmission is an admission table shared by every instance connected to
// the same NATS JetStream KV bucket.
//
// Keys are claimed with an atomic Create. When the bucket has a TTL, held keys
// are renewed every TTL/3 so that a crashed instance frees its runs once the
// TTL lapses while live runs keep their claim.
type KVAdmission struct {
	kv     jetstream.KeyValue
	ttl    time.Duration
	logger types.Logger
	leases *xsync.Map[string, *lease]
}

var _ Admission = (*KVAdmission)(nil)

// NewKVAdmission creates or opens the admission bucket.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - js: JetStream context
//   - bucket: Bucket name (DefaultAdmissionBucket when empty)
//   - ttl: Claim lifetime without renewal (0 disables expiry)
//   - logger: Logger (nop when nil)
//
// Returns:
//   - *KVAdmission: Admission table backed by the bucket
//   - error: Bucket creation failure
//
// Example:
//
//	adm, err := jobs.NewKVAdmission(ctx, js, "", time.Minute, logger)
//	if err != nil { /* handle */ }
//	runner := jobs.NewRunner(jobs.WithAdmission(adm))
func NewKVAdmission(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration, logger types.Logger) (*KVAdmission, error) {
	if bucket == "" {
		bucket = DefaultAdmissionBucket
	}

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
	}, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to open admission bucket: %w", err)
	}

	return NewKVAdmissionFromBucket(kv, ttl, logger), nil
}

// NewKVAdmissionFromBucket wraps an existing bucket.
func NewKVAdmissionFromBucket(kv jetstream.KeyValue, ttl time.Duration, logger types.Logger) *KVAdmission {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &KVAdmission{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
		leases: xsync.NewMap[string, *lease](),
	}
}

// Acquire implements Admission.
func (a *KVAdmission) Acquire(ctx context.Context, key AdmissionKey, jobID string) error {
	now := time.Now().UTC()
	entry := admissionEntry{JobID: jobID, AcquiredAt: now, RenewedAt: now}

	rev, err := kvutil.CreateJSON(ctx, a.kv, key.String(), entry)
	if err != nil {
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("failed to acquire %s: %w", key, err)
		}

		holder, ok, herr := a.Holder(ctx, key)
		if herr == nil && ok && holder == jobID {
			return nil
		}
		a.logger.Debug("automatic run already admitted", "key", key.String(), "holder", holder)

		return fmt.Errorf("%w: held by job %s", types.ErrAutomaticPairingExists, holder)
	}

	a.logger.Debug("automatic run admitted", "key", key.String(), "job_id", jobID, "revision", rev)
	if a.ttl > 0 {
		a.startRenewal(key, entry, rev)
	}

	return nil
}

func (a *KVAdmission) startRenewal(key AdmissionKey, entry admissionEntry, rev uint64) {
	l := &lease{stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	a.leases.Store(key.String(), l)

	go func() {
		defer close(l.doneCh)

		ticker := time.NewTicker(a.ttl / 3)
		defer ticker.Stop()

		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				entry.RenewedAt = time.Now().UTC()
				ctx, cancel := context.WithTimeout(context.Background(), a.ttl/3)
				next, err := kvutil.UpdateJSON(ctx, a.kv, key.String(), entry, rev)
				cancel()
				if err != nil {
					a.logger.Warn("failed to renew admission", "key", key.String(), "job_id", entry.JobID, "error", err)
					continue
				}
				rev = next
			}
		}
	}()
}

// Release implements Admission.
func (a *KVAdmission) Release(ctx context.Context, key AdmissionKey, jobID string) error {
	if l, ok := a.leases.LoadAndDelete(key.String()); ok {
		close(l.stopCh)
		<-l.doneCh
	}

	entry, rev, err := kvutil.GetJSON[admissionEntry](ctx, a.kv, key.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}

		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	if entry.JobID != jobID {
		return nil
	}

	if err := a.kv.Delete(ctx, key.String(), jetstream.LastRevision(rev)); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}

	return nil
}

// Holder implements Admission.
func (a *KVAdmission) Holder(ctx context.Context, key AdmissionKey) (string, bool, error) {
	entry, _, err := kvutil.GetJSON[admissionEntry](ctx, a.kv, key.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", false, nil
		}

		return "", false, err
	}

	return entry.JobID, true, nil
}
