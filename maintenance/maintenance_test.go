package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/notify"
	"github.com/arloliu/peerpair/roster"
	pptest "github.com/arloliu/peerpair/testing"
	"github.com/arloliu/peerpair/types"
)

const (
	courseID     = 5
	assignmentID = 77
)

var testDue = time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

type fixture struct {
	roster     *roster.Static
	ledger     *ledger.Ledger
	notifier   *notify.Recorder
	m          *Maintainer
	teacher    types.User
	students   []types.User
	raw        []types.User
	assignment types.Assignment
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()

	raw := pptest.Students(n)
	teachers := pptest.Users("teacher", 900, 1)
	assignment := types.Assignment{ID: assignmentID, CourseID: courseID, Name: "Essay", DueAt: &testDue}

	src := roster.NewStatic()
	src.SetAssignment(assignment)
	src.SetEnrollments(courseID, types.RoleStudent, raw)
	src.SetEnrollments(courseID, types.RoleTeacher, teachers)
	src.SetSubmissions(courseID, assignmentID, pptest.Submissions(raw, types.SubmissionSubmitted))

	dir := ledger.NewMemoryDirectory()
	local, err := dir.EnsureUsers(t.Context(), append(teachers, raw...), true)
	require.NoError(t, err)

	l := ledger.New(ledger.NewMemoryStore(), ledger.WithLogger(pptest.NewTestLogger(t)))
	require.NoError(t, l.PutSettings(t.Context(), types.AssignmentSettings{CourseID: courseID, AssignmentID: assignmentID}))

	rec := notify.NewRecorder()

	return &fixture{
		roster:     src,
		ledger:     l,
		notifier:   rec,
		m:          New(src, dir, l, WithNotifier(rec), WithLogger(pptest.NewTestLogger(t)), WithSeed(7)),
		teacher:    local[0],
		students:   local[1:],
		raw:        raw,
		assignment: assignment,
	}
}

// pair creates grader -> recipient pairings by student index.
func (f *fixture) pair(t *testing.T, creator types.User, grader int, recipients ...int) []types.Pairing {
	t.Helper()

	out := make([]types.Pairing, 0, len(recipients))
	for _, r := range recipients {
		p, err := f.ledger.CreatePairing(t.Context(), ledger.CreateRequest{
			Creator:    creator,
			Grader:     f.students[grader],
			Recipient:  f.students[r],
			Assignment: f.assignment,
		})
		require.NoError(t, err)
		out = append(out, p)
	}

	return out
}

func (f *fixture) withdraw(students ...int) {
	subs := pptest.Submissions(f.raw, types.SubmissionSubmitted)
	for _, i := range students {
		subs[i].State = types.SubmissionUnsubmitted
	}
	f.roster.SetSubmissions(courseID, assignmentID, subs)
}

func (f *fixture) active(t *testing.T) []types.Pairing {
	t.Helper()

	records, err := f.ledger.List(t.Context(), ledger.Filter{CourseID: courseID, AssignmentID: assignmentID})
	require.NoError(t, err)

	out := make([]types.Pairing, 0, len(records))
	for _, r := range records {
		out = append(out, r.Pairing)
	}

	return out
}

func TestReplaceUnsubmittedPairs(t *testing.T) {
	f := newFixture(t, 5)
	for i := range 5 {
		f.pair(t, f.teacher, i, (i+1)%5, (i+2)%5)
	}
	f.withdraw(4)

	p := jobs.NewProgress(KindReplaceUnsubmitted, nil, nil)
	res, err := f.m.ReplaceUnsubmittedPairs(t.Context(), ReplaceRequest{
		CourseID: courseID, AssignmentID: assignmentID, PairsPerGrader: 2, Notify: true,
	}, p)
	require.NoError(t, err)
	require.Equal(t, jobs.ResultSuccess, res.Status)
	require.Equal(t, 2, res.Created)
	require.Equal(t, "Deleted 2 pairs with empty submissions. Created 2 new pairings.", res.Message)
	require.Equal(t, types.RunDone, p.State())
	require.Len(t, f.notifier.Pairings(), 2)

	gives := make(map[types.UserID]int)
	for _, pr := range f.active(t) {
		require.NotEqual(t, f.students[4].ID, pr.RecipientID, "pairings to the withdrawn student remain")
		require.NotEqual(t, pr.GraderID, pr.RecipientID)
		gives[pr.GraderID]++
	}
	for _, s := range f.students[:4] {
		require.Equal(t, 2, gives[s.ID], "%s", s.Username)
	}

	t.Run("idempotent", func(t *testing.T) {
		res, err := f.m.ReplaceUnsubmittedPairs(t.Context(), ReplaceRequest{
			CourseID: courseID, AssignmentID: assignmentID, PairsPerGrader: 2,
		}, nil)
		require.NoError(t, err)
		require.Zero(t, res.Created)
		require.Equal(t, "Deleted 0 pairs with empty submissions. Created 0 new pairings.", res.Message)
	})

	t.Run("invalid pairs", func(t *testing.T) {
		_, err := f.m.ReplaceUnsubmittedPairs(t.Context(), ReplaceRequest{CourseID: courseID, AssignmentID: assignmentID}, nil)
		require.ErrorIs(t, err, types.ErrInvalidConfig)
	})
}

func TestFillMissingPairs(t *testing.T) {
	f := newFixture(t, 4)

	// An extra review the student asked for does not count as a regular pair.
	f.pair(t, f.students[0], 0, 1)
	f.pair(t, f.teacher, 1, 2)

	res, err := f.m.FillMissingPairs(t.Context(), FillRequest{CourseID: courseID, AssignmentID: assignmentID, MinPairs: 1}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Created)
	require.Equal(t, "Created 3 new pairs.", res.Message)

	regular := make(map[types.UserID]int)
	for _, pr := range f.active(t) {
		if pr.GraderID != pr.CreatorID {
			regular[pr.GraderID]++
		}
	}
	for _, s := range f.students {
		require.Equal(t, 1, regular[s.ID], "%s", s.Username)
	}

	res, err = f.m.FillMissingPairs(t.Context(), FillRequest{CourseID: courseID, AssignmentID: assignmentID, MinPairs: 1}, nil)
	require.NoError(t, err)
	require.Zero(t, res.Created)
}

func TestFillMissingPairs_OnlyEligibleRecipients(t *testing.T) {
	f := newFixture(t, 4)
	f.withdraw(2, 3)

	res, err := f.m.FillMissingPairs(t.Context(), FillRequest{CourseID: courseID, AssignmentID: assignmentID, MinPairs: 1}, nil)
	require.NoError(t, err)
	require.Equal(t, 4, res.Created, "defaulters still review")

	for _, pr := range f.active(t) {
		require.Contains(t, []types.UserID{f.students[0].ID, f.students[1].ID}, pr.RecipientID)
	}
}

func TestReplaceTask(t *testing.T) {
	f := newFixture(t, 4)
	old := f.pair(t, f.teacher, 0, 1)[0]
	f.pair(t, f.teacher, 2, 1)
	f.pair(t, f.teacher, 3, 2)

	rec, err := f.ledger.Get(t.Context(), old.ID)
	require.NoError(t, err)

	res, err := f.m.ReplaceTask(t.Context(), ReplaceTaskRequest{TaskID: rec.Task.ID}, nil)
	require.NoError(t, err)
	require.Equal(t, MsgTaskReplaced, res.Message)
	require.NotEmpty(t, res.PairingID)

	replaced, err := f.ledger.Get(t.Context(), res.PairingID)
	require.NoError(t, err)
	require.Equal(t, f.students[0].ID, replaced.Pairing.GraderID)
	require.Equal(t, f.students[2].ID, replaced.Pairing.RecipientID)
	require.Equal(t, f.students[0].ID, replaced.Pairing.CreatorID)

	archived, err := f.ledger.GetByTask(t.Context(), rec.Task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskArchived, archived.Task.Status)
}

func TestReplaceTask_IgnoresViewOnlyLoad(t *testing.T) {
	f := newFixture(t, 5)
	old := f.pair(t, f.teacher, 0, 1)[0]
	f.pair(t, f.teacher, 4, 2)

	// Student 3 is only watched, never reviewed.
	for _, grader := range []int{1, 4} {
		_, err := f.ledger.CreatePairing(t.Context(), ledger.CreateRequest{
			Creator:    f.teacher,
			Grader:     f.students[grader],
			Recipient:  f.students[3],
			Assignment: f.assignment,
			ViewOnly:   true,
		})
		require.NoError(t, err)
	}

	rec, err := f.ledger.Get(t.Context(), old.ID)
	require.NoError(t, err)

	res, err := f.m.ReplaceTask(t.Context(), ReplaceTaskRequest{TaskID: rec.Task.ID}, nil)
	require.NoError(t, err)

	replaced, err := f.ledger.Get(t.Context(), res.PairingID)
	require.NoError(t, err)
	require.Equal(t, f.students[3].ID, replaced.Pairing.RecipientID)
}

func TestReplaceTask_Errors(t *testing.T) {
	t.Run("unknown task", func(t *testing.T) {
		f := newFixture(t, 3)

		res, err := f.m.ReplaceTask(t.Context(), ReplaceTaskRequest{TaskID: "missing"}, nil)
		require.ErrorIs(t, err, types.ErrTaskNotFound)
		require.Equal(t, jobs.ResultError, res.Status)
	})

	t.Run("no eligible recipient", func(t *testing.T) {
		f := newFixture(t, 4)
		old := f.pair(t, f.teacher, 0, 1)[0]
		f.pair(t, f.teacher, 3, 2)
		f.withdraw(2)

		rec, err := f.ledger.Get(t.Context(), old.ID)
		require.NoError(t, err)

		_, err = f.m.ReplaceTask(t.Context(), ReplaceTaskRequest{TaskID: rec.Task.ID}, nil)
		require.ErrorIs(t, err, types.ErrNoSuitableRecipient)
		require.ErrorContains(t, err, MsgNoSuitableStudent)
	})

	t.Run("no candidates", func(t *testing.T) {
		f := newFixture(t, 2)
		old := f.pair(t, f.teacher, 0, 1)[0]

		rec, err := f.ledger.Get(t.Context(), old.ID)
		require.NoError(t, err)

		_, err = f.m.ReplaceTask(t.Context(), ReplaceTaskRequest{TaskID: rec.Task.ID}, nil)
		require.ErrorIs(t, err, types.ErrNoSuitableRecipient)
		require.ErrorContains(t, err, MsgNoSubmissions)
	})
}

func TestSyncSchedules(t *testing.T) {
	f := newFixture(t, 2)

	undated := types.Assignment{ID: 78, CourseID: courseID, Name: "Draft"}
	f.roster.SetAssignment(undated)

	runner := jobs.NewRunner()
	sched := jobs.NewScheduler(runner)
	t.Cleanup(func() {
		sched.Stop()
		require.NoError(t, runner.Close(context.Background()))
	})

	spec := jobs.Spec{Kind: "automatic", Run: func(context.Context, *jobs.Progress) (jobs.Result, error) {
		return jobs.Result{}, nil
	}}
	far := time.Now().Add(24 * time.Hour)

	schedule := func(id string, assignment int64, runAt time.Time, offset time.Duration) {
		_, err := sched.Schedule(jobs.ScheduledRun{
			ID: id, CourseID: courseID, AssignmentID: assignment, RunAt: runAt, Offset: offset, Spec: spec,
		})
		require.NoError(t, err)
	}
	schedule("drifted", assignmentID, far, 0)
	schedule("custom-offset", assignmentID, far.Add(time.Minute), 2*time.Hour)
	schedule("undated", 78, far.Add(2*time.Minute), 0)

	report, err := f.m.SyncSchedules(t.Context(), sched)
	require.NoError(t, err)
	require.Equal(t, []string{"undated"}, report.Cancelled)
	require.ElementsMatch(t, []string{"drifted", "custom-offset"}, report.Rescheduled)

	_, ok := sched.Get("undated")
	require.False(t, ok)
}

type fakeSchedules struct {
	runs        []jobs.ScheduledRun
	cancelled   []string
	rescheduled map[string]time.Time
}

func (s *fakeSchedules) List() []jobs.ScheduledRun { return s.runs }

func (s *fakeSchedules) Cancel(id string) error {
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *fakeSchedules) Reschedule(id string, runAt time.Time) error {
	if s.rescheduled == nil {
		s.rescheduled = make(map[string]time.Time)
	}
	s.rescheduled[id] = runAt

	return nil
}

func TestSyncSchedules_Targets(t *testing.T) {
	f := newFixture(t, 2)
	fake := &fakeSchedules{runs: []jobs.ScheduledRun{
		{ID: "a", CourseID: courseID, AssignmentID: assignmentID, RunAt: testDue.Add(time.Hour)},
		{ID: "b", CourseID: courseID, AssignmentID: assignmentID, RunAt: testDue},
		{ID: "c", CourseID: courseID, AssignmentID: assignmentID, RunAt: testDue, Offset: 30 * time.Minute},
		{ID: "d", CourseID: courseID, AssignmentID: 404, RunAt: testDue},
	}}

	report, err := f.m.SyncSchedules(t.Context(), fake)
	require.ErrorIs(t, err, types.ErrRosterUnavailable)
	require.Equal(t, 1, report.Unchanged)
	require.Equal(t, map[string]time.Time{
		"b": testDue.Add(time.Hour),
		"c": testDue.Add(30 * time.Minute),
	}, fake.rescheduled)
	require.Empty(t, fake.cancelled)
}
