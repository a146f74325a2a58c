package maintenance

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/matching"
	"github.com/arloliu/peerpair/types"
)

// Job kinds, used as job kinds and metrics labels.
const (
	KindReplaceUnsubmitted = "replace_unsubmitted"
	KindFillMissing        = "fill_missing"
	KindReplaceTask        = "replace_task"
	KindSyncSchedules      = "sync_schedules"
)

// Result messages.
const (
	MsgNoSubmissions     = "No submissions found"
	MsgNoSuitableStudent = "No suitable students found for pairing"
	MsgTaskReplaced      = "Task replaced and new pairing created."
)

// notifyTimeout bounds a single pairing notification.
const notifyTimeout = 5 * time.Second

// Maintainer repairs pairings after the course data changed underneath them.
//
// All operations are idempotent: pairs that already exist are skipped, so a
// repeated run only creates what is still missing.
type Maintainer struct {
	roster    types.RosterProvider
	directory types.Directory
	ledger    *ledger.Ledger
	notifier  types.Notifier
	logger    types.Logger
	metrics   types.MetricsCollector
	seed      *uint64
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithNotifier sets the notifier receiving created pairings.
func WithNotifier(n types.Notifier) Option {
	return func(m *Maintainer) { m.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(m *Maintainer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc types.MetricsCollector) Option {
	return func(m *Maintainer) {
		if mc != nil {
			m.metrics = mc
		}
	}
}

// WithSeed makes tie-breaks between equally reviewed recipients reproducible.
func WithSeed(seed uint64) Option {
	return func(m *Maintainer) { m.seed = &seed }
}

// New creates a maintainer.
func New(roster types.RosterProvider, directory types.Directory, l *ledger.Ledger, opts ...Option) *Maintainer {
	m := &Maintainer{
		roster:    roster,
		directory: directory,
		ledger:    l,
		logger:    logging.NewNop(),
		metrics:   metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Maintainer) rngFor(kind string, courseID, assignmentID int64) matching.Source {
	if m.seed == nil {
		return matching.NewRandomSource()
	}

	return matching.NewSource(matching.SeedFor(
		strconv.FormatUint(*m.seed, 10),
		kind,
		strconv.FormatInt(courseID, 10),
		strconv.FormatInt(assignmentID, 10),
	))
}

func (m *Maintainer) progress(p *jobs.Progress, kind string) *jobs.Progress {
	if p != nil {
		return p
	}

	return jobs.NewProgress(kind, m.logger, m.metrics)
}

// finish moves p to its final state and builds the job result.
func finish(p *jobs.Progress, res jobs.Result, err error) (jobs.Result, error) {
	if err != nil {
		res.Status = jobs.ResultError
		res.Message = err.Error()
		p.Fail(err)

		return res, err
	}

	res.Status = jobs.ResultSuccess
	_ = p.Transition(types.RunDone)

	return res, nil
}

// courseTeacher returns the local record of the first teacher of a course.
// Repairs are created on the teacher's behalf.
func (m *Maintainer) courseTeacher(ctx context.Context, courseID int64) (types.User, error) {
	teachers, err := m.roster.Enrollments(ctx, courseID, types.RoleTeacher)
	if err != nil {
		return types.User{}, fmt.Errorf("failed to load teachers: %w", err)
	}

	local, err := m.directory.EnsureUsers(ctx, teachers, false)
	if err != nil {
		return types.User{}, fmt.Errorf("failed to resolve teachers: %w", err)
	}
	if len(local) == 0 {
		return types.User{}, fmt.Errorf("%w: no teacher for course %d", types.ErrUserNotFound, courseID)
	}

	return local[0], nil
}

// submissionIndex holds the submissions of an assignment by external user ID.
type submissionIndex map[int64]types.Submission

func (m *Maintainer) submissions(ctx context.Context, courseID, assignmentID int64) (submissionIndex, error) {
	subs, err := m.roster.Submissions(ctx, courseID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}

	idx := make(submissionIndex, len(subs))
	for _, s := range subs {
		idx[s.UserExternalID] = s
	}

	return idx, nil
}

func (s submissionIndex) eligible(u types.User) bool {
	sub, ok := s[u.ExternalID]
	return ok && sub.Eligible()
}

// userCache resolves local user IDs through the directory once per run.
type userCache struct {
	directory types.Directory
	users     map[types.UserID]types.User
}

func newUserCache(d types.Directory) *userCache {
	return &userCache{directory: d, users: make(map[types.UserID]types.User)}
}

func (c *userCache) get(ctx context.Context, id types.UserID) (types.User, error) {
	if u, ok := c.users[id]; ok {
		return u, nil
	}

	u, err := c.directory.User(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	c.users[id] = u

	return u, nil
}

func (m *Maintainer) notifyPairing(ctx context.Context, pairing types.Pairing) {
	if m.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := m.notifier.PairingCreated(ctx, pairing); err != nil {
		m.logger.Warn("pairing notification failed", "pairing_id", pairing.ID, "error", err)
	}
}

func sortedIDs[V any](set map[types.UserID]V) []types.UserID {
	ids := make([]types.UserID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}
