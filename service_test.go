package peerpair

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/allocation"
	"github.com/arloliu/peerpair/archive"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/maintenance"
	"github.com/arloliu/peerpair/notify"
	"github.com/arloliu/peerpair/roster"
	pptest "github.com/arloliu/peerpair/testing"
	"github.com/arloliu/peerpair/types"
)

const (
	testCourse     = 5
	testAssignment = 77
)

var testTeacher = User{ID: 900, ExternalID: 9900, Username: "teacher"}

type serviceFixture struct {
	svc      *Service
	roster   *roster.Static
	dir      *ledger.MemoryDirectory
	notifier *notify.Recorder
	archive  *archive.Memory
	students []User
}

func newServiceFixture(t *testing.T, due *time.Time, opts ...Option) *serviceFixture {
	t.Helper()

	students := pptest.Students(6)
	tas := pptest.Users("ta", 500, 2)

	src := roster.NewStatic()
	src.SetAssignment(Assignment{ID: testAssignment, CourseID: testCourse, Name: "Essay", DueAt: due})
	src.SetEnrollments(testCourse, types.RoleStudent, students)
	src.SetEnrollments(testCourse, types.RoleTA, tas)
	src.SetSubmissions(testCourse, testAssignment, pptest.Submissions(students, types.SubmissionSubmitted))

	dir := ledger.NewMemoryDirectory()
	local, err := dir.EnsureUsers(t.Context(), students, true)
	require.NoError(t, err)
	_, err = dir.EnsureUsers(t.Context(), tas, true)
	require.NoError(t, err)

	rec := notify.NewRecorder()
	arch := archive.NewMemory()
	cfg := TestConfig()

	opts = append([]Option{
		WithLogger(pptest.NewTestLogger(t)),
		WithNotifier(rec),
		WithArchive(arch),
	}, opts...)

	svc, err := NewService(&cfg, src, dir, ledger.NewMemoryStore(), opts...)
	require.NoError(t, err)
	require.NoError(t, svc.PutSettings(t.Context(), AssignmentSettings{
		CourseID:     testCourse,
		AssignmentID: testAssignment,
		RubricID:     3,
	}))

	return &serviceFixture{svc: svc, roster: src, dir: dir, notifier: rec, archive: arch, students: local}
}

func (f *serviceFixture) start(t *testing.T) {
	t.Helper()

	require.NoError(t, f.svc.Start(t.Context()))
	t.Cleanup(func() {
		_ = f.svc.Stop(t.Context())
	})
}

func automaticRequest(rounds int) allocation.AutomaticRequest {
	return allocation.AutomaticRequest{
		CourseID:     testCourse,
		AssignmentID: testAssignment,
		Rounds:       rounds,
		Creator:      testTeacher,
	}
}

func waitJob(t *testing.T, job *jobs.Job) jobs.Result {
	t.Helper()

	res, err := job.Wait(t.Context())
	require.NoError(t, err)

	return res
}

func TestNewService(t *testing.T) {
	src := roster.NewStatic()
	dir := ledger.NewMemoryDirectory()
	store := ledger.NewMemoryStore()

	t.Run("requires config", func(t *testing.T) {
		_, err := NewService(nil, src, dir, store)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("requires roster", func(t *testing.T) {
		cfg := TestConfig()
		_, err := NewService(&cfg, nil, dir, store)
		require.ErrorIs(t, err, ErrRosterRequired)
	})

	t.Run("requires directory", func(t *testing.T) {
		cfg := TestConfig()
		_, err := NewService(&cfg, src, nil, store)
		require.ErrorIs(t, err, ErrDirectoryRequired)
	})

	t.Run("requires store", func(t *testing.T) {
		cfg := TestConfig()
		_, err := NewService(&cfg, src, dir, nil)
		require.ErrorIs(t, err, ErrStoreRequired)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Storage.Backend = "sqlite"
		_, err := NewService(&cfg, src, dir, store)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("applies defaults in place", func(t *testing.T) {
		cfg := Config{}
		_, err := NewService(&cfg, src, dir, store)
		require.NoError(t, err)
		require.Equal(t, jobs.DefaultConcurrency, cfg.Jobs.Concurrency)
		require.Equal(t, BackendMemory, cfg.Storage.Backend)
	})
}

func TestService_Lifecycle(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := t.Context()

	_, err := f.svc.SubmitAutomatic(ctx, automaticRequest(2))
	require.ErrorIs(t, err, ErrNotStarted)
	require.ErrorIs(t, f.svc.Stop(ctx), ErrNotStarted)

	require.NoError(t, f.svc.Start(ctx))
	require.ErrorIs(t, f.svc.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, f.svc.Stop(ctx))
	require.ErrorIs(t, f.svc.Stop(ctx), ErrNotStarted)
	require.ErrorIs(t, f.svc.Start(ctx), ErrAlreadyStarted)
}

func TestService_SubmitAutomatic(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.start(t)
	ctx := t.Context()

	job, err := f.svc.SubmitAutomatic(ctx, automaticRequest(2))
	require.NoError(t, err)

	res := waitJob(t, job)
	require.Equal(t, jobs.ResultSuccess, res.Status)
	require.Equal(t, allocation.MsgAutomaticDone, res.Message)
	require.Equal(t, 12, res.Created)
	require.Equal(t, jobs.StatusFinished, job.Status())
	require.Equal(t, 100, job.Progress().Snapshot().Percent)

	records, err := f.svc.Pairings(ctx, ledger.Filter{CourseID: testCourse, AssignmentID: testAssignment})
	require.NoError(t, err)
	require.Len(t, records, 12)

	keys, err := f.archive.List(ctx, archive.Prefix(testCourse, testAssignment, allocation.KindAutomatic))
	require.NoError(t, err)
	require.Len(t, keys, 1)

	infos := f.svc.Jobs()
	require.Len(t, infos, 1)
	require.Equal(t, job.ID(), infos[0].ID)

	found, err := f.svc.Job(job.ID())
	require.NoError(t, err)
	require.Same(t, job, found)

	_, err = f.svc.Job("missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	// Stop flushes the asynchronous notifier.
	require.NoError(t, f.svc.Stop(ctx))
	runs := f.notifier.Runs()
	require.Len(t, runs, 1)
	require.True(t, runs[0].Success)
}

func TestService_SubmitAutomatic_Rejections(t *testing.T) {
	t.Run("invalid request is rejected synchronously", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.start(t)

		_, err := f.svc.SubmitAutomatic(t.Context(), automaticRequest(0))
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Empty(t, f.svc.Jobs())
	})

	t.Run("concurrent run for the same key is rejected", func(t *testing.T) {
		adm := jobs.NewMemoryAdmission()
		f := newServiceFixture(t, nil, WithAdmission(adm))
		f.start(t)

		req := automaticRequest(2)
		require.NoError(t, adm.Acquire(t.Context(), req.AdmissionKey(), "other-job"))

		_, err := f.svc.SubmitAutomatic(t.Context(), req)
		require.ErrorIs(t, err, ErrAutomaticPairingExists)

		require.NoError(t, adm.Release(t.Context(), req.AdmissionKey(), "other-job"))
		job, err := f.svc.SubmitAutomatic(t.Context(), req)
		require.NoError(t, err)
		require.Equal(t, jobs.ResultSuccess, waitJob(t, job).Status)
	})

	t.Run("failed run reports the error", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.start(t)

		job, err := f.svc.SubmitAutomatic(t.Context(), automaticRequest(6))
		require.NoError(t, err)

		res := waitJob(t, job)
		require.Equal(t, jobs.ResultError, res.Status)
		require.Contains(t, res.Message, ErrReviewsExceedStudents.Error())
		require.Equal(t, jobs.StatusError, job.Status())
	})
}

func TestService_Preview(t *testing.T) {
	f := newServiceFixture(t, nil, WithSeed(42))

	preview, err := f.svc.Preview(t.Context(), automaticRequest(2))
	require.NoError(t, err)
	require.Equal(t, 12, preview.Pairs)
	require.Len(t, preview.Rows, 6)

	records, err := f.svc.Pairings(t.Context(), ledger.Filter{CourseID: testCourse})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestService_SubmitCSV(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.start(t)

	job, err := f.svc.SubmitCSV(t.Context(), allocation.CSVRequest{
		CourseID:     testCourse,
		AssignmentID: testAssignment,
		Records: []allocation.CSVRecord{
			{Grader: "student01", Recipients: []string{"student02", "student03"}},
		},
		GraderType: KindStudent,
		Creator:    testTeacher,
	})
	require.NoError(t, err)

	res := waitJob(t, job)
	require.Equal(t, jobs.ResultSuccess, res.Status)
	require.Equal(t, 2, res.Created)

	_, err = f.svc.SubmitCSV(t.Context(), allocation.CSVRequest{CourseID: testCourse, AssignmentID: testAssignment})
	require.Error(t, err)
}

func TestService_SubmitTAAllocation(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.start(t)

	// TAs were ensured after the six students.
	job, err := f.svc.SubmitTAAllocation(t.Context(), allocation.TARequest{
		CourseID:     testCourse,
		AssignmentID: testAssignment,
		Allocations: []allocation.TAAllocation{
			{TAID: 7, StudentCount: 4},
			{TAID: 8, StudentCount: 2},
		},
		Creator: testTeacher,
	})
	require.NoError(t, err)

	res := waitJob(t, job)
	require.Equal(t, jobs.ResultSuccess, res.Status, res.Message)
	require.Equal(t, 6, res.Created)

	records, err := f.svc.Pairings(t.Context(), ledger.Filter{Kind: KindTA})
	require.NoError(t, err)
	require.Len(t, records, 6)
}

func TestService_Maintenance(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.start(t)
	ctx := t.Context()

	_, err := f.svc.SubmitReplaceTask(ctx, maintenance.ReplaceTaskRequest{})
	require.ErrorIs(t, err, ErrInvalidConfig)

	job, err := f.svc.SubmitReplaceTask(ctx, maintenance.ReplaceTaskRequest{TaskID: "missing"})
	require.NoError(t, err)
	res := waitJob(t, job)
	require.Equal(t, jobs.ResultError, res.Status)
	require.Contains(t, res.Message, ErrTaskNotFound.Error())

	job, err = f.svc.SubmitFillMissing(ctx, maintenance.FillRequest{
		CourseID:     testCourse,
		AssignmentID: testAssignment,
		MinPairs:     1,
	})
	require.NoError(t, err)
	res = waitJob(t, job)
	// Filling needs a course teacher to record as creator.
	require.Equal(t, jobs.ResultError, res.Status)
	require.Contains(t, res.Message, types.ErrUserNotFound.Error())

	teacher := User{ExternalID: testTeacher.ExternalID, Username: "teacher"}
	f.roster.SetEnrollments(testCourse, types.RoleTeacher, []User{teacher})
	_, err = f.dir.EnsureUsers(ctx, []User{teacher}, true)
	require.NoError(t, err)
	job, err = f.svc.SubmitFillMissing(ctx, maintenance.FillRequest{
		CourseID:     testCourse,
		AssignmentID: testAssignment,
		MinPairs:     1,
	})
	require.NoError(t, err)
	res = waitJob(t, job)
	require.Equal(t, jobs.ResultSuccess, res.Status, res.Message)
	require.Equal(t, 6, res.Created)

	job, err = f.svc.SubmitReplaceUnsubmitted(ctx, maintenance.ReplaceRequest{
		CourseID:       testCourse,
		AssignmentID:   testAssignment,
		PairsPerGrader: 1,
	})
	require.NoError(t, err)
	res = waitJob(t, job)
	require.Equal(t, jobs.ResultSuccess, res.Status, res.Message)
	require.Equal(t, 0, res.Created)
}

func TestService_ScheduleAutomatic(t *testing.T) {
	t.Run("schedules at due date plus offset", func(t *testing.T) {
		due := time.Now().Add(time.Hour).Truncate(time.Second)
		f := newServiceFixture(t, &due)
		f.start(t)

		run, err := f.svc.ScheduleAutomatic(t.Context(), automaticRequest(2))
		require.NoError(t, err)
		require.Equal(t, due.Add(time.Hour), run.RunAt)
		require.Equal(t, time.Hour, run.Offset)
		require.Len(t, f.svc.Schedules(), 1)

		report, err := f.svc.SyncSchedules(t.Context())
		require.NoError(t, err)
		require.Equal(t, 1, report.Unchanged)

		moved := due.Add(24 * time.Hour)
		f.roster.SetAssignment(Assignment{ID: testAssignment, CourseID: testCourse, DueAt: &moved})
		report, err = f.svc.SyncSchedules(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{run.ID}, report.Rescheduled)
		require.Equal(t, moved.Add(time.Hour), f.svc.Schedules()[0].RunAt)

		require.NoError(t, f.svc.CancelSchedule(run.ID))
		require.Empty(t, f.svc.Schedules())
		require.ErrorIs(t, f.svc.CancelSchedule(run.ID), ErrScheduleNotFound)
	})

	t.Run("requires a due date", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.start(t)

		_, err := f.svc.ScheduleAutomatic(t.Context(), automaticRequest(2))
		require.ErrorIs(t, err, ErrNoDueDate)
		require.Empty(t, f.svc.Schedules())
	})
}

func TestService_SetArchived(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.start(t)
	ctx := t.Context()

	job, err := f.svc.SubmitAutomatic(ctx, automaticRequest(1))
	require.NoError(t, err)
	require.Equal(t, jobs.ResultSuccess, waitJob(t, job).Status)

	records, err := f.svc.Pairings(ctx, ledger.Filter{CourseID: testCourse})
	require.NoError(t, err)
	require.NotEmpty(t, records)

	id := records[0].Pairing.ID
	rec, err := f.svc.SetArchived(ctx, id, true)
	require.NoError(t, err)
	require.True(t, rec.Pairing.Archived)

	active, err := f.svc.Pairings(ctx, ledger.Filter{CourseID: testCourse})
	require.NoError(t, err)
	require.Len(t, active, len(records)-1)

	rec, err = f.svc.SetArchived(ctx, id, false)
	require.NoError(t, err)
	require.False(t, rec.Pairing.Archived)
}
