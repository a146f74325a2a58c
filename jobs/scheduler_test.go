package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/types"
)

func countingSpec(counter *atomic.Int64) Spec {
	return Spec{Kind: "automatic", Run: func(context.Context, *Progress) (Result, error) {
		counter.Add(1)
		return Result{}, nil
	}}
}

func TestScheduler_Schedule(t *testing.T) {
	t.Run("fires once at run time", func(t *testing.T) {
		r := NewRunner()
		s := NewScheduler(r)
		defer s.Stop()

		var runs atomic.Int64
		run, err := s.Schedule(ScheduledRun{
			CourseID:     5,
			AssignmentID: 77,
			RunAt:        time.Now().Add(30 * time.Millisecond),
			Spec:         countingSpec(&runs),
		})
		require.NoError(t, err)
		require.NotEmpty(t, run.ID)
		require.Len(t, s.List(), 1)

		require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
		require.Empty(t, s.List())
		require.ErrorIs(t, s.Cancel(run.ID), types.ErrScheduleNotFound)
	})

	t.Run("past run time fires immediately", func(t *testing.T) {
		s := NewScheduler(NewRunner())
		defer s.Stop()

		var runs atomic.Int64
		_, err := s.Schedule(ScheduledRun{RunAt: time.Now().Add(-time.Hour), Spec: countingSpec(&runs)})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("rejects invalid runs", func(t *testing.T) {
		s := NewScheduler(NewRunner())
		defer s.Stop()

		_, err := s.Schedule(ScheduledRun{RunAt: time.Now().Add(time.Hour)})
		require.ErrorIs(t, err, types.ErrInvalidConfig)

		var runs atomic.Int64
		_, err = s.Schedule(ScheduledRun{ID: "fixed", RunAt: time.Now().Add(time.Hour), Spec: countingSpec(&runs)})
		require.NoError(t, err)
		_, err = s.Schedule(ScheduledRun{ID: "fixed", RunAt: time.Now().Add(time.Hour), Spec: countingSpec(&runs)})
		require.ErrorIs(t, err, types.ErrInvalidConfig)
	})
}

func TestScheduler_CancelAndReschedule(t *testing.T) {
	t.Run("cancelled runs never fire", func(t *testing.T) {
		s := NewScheduler(NewRunner())
		defer s.Stop()

		var runs atomic.Int64
		run, err := s.Schedule(ScheduledRun{RunAt: time.Now().Add(50 * time.Millisecond), Spec: countingSpec(&runs)})
		require.NoError(t, err)
		require.NoError(t, s.Cancel(run.ID))
		require.ErrorIs(t, s.Cancel(run.ID), types.ErrScheduleNotFound)

		time.Sleep(100 * time.Millisecond)
		require.Zero(t, runs.Load())
	})

	t.Run("rescheduled runs fire at the new time", func(t *testing.T) {
		s := NewScheduler(NewRunner())
		defer s.Stop()

		var runs atomic.Int64
		run, err := s.Schedule(ScheduledRun{RunAt: time.Now().Add(time.Hour), Spec: countingSpec(&runs)})
		require.NoError(t, err)

		newTime := time.Now().Add(20 * time.Millisecond)
		require.NoError(t, s.Reschedule(run.ID, newTime))
		got, ok := s.Get(run.ID)
		require.True(t, ok)
		require.True(t, got.RunAt.Equal(newTime))

		require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
		require.ErrorIs(t, s.Reschedule(run.ID, time.Now()), types.ErrScheduleNotFound)
	})

	t.Run("list is ordered by run time", func(t *testing.T) {
		s := NewScheduler(NewRunner())
		defer s.Stop()

		var runs atomic.Int64
		base := time.Now().Add(time.Hour)
		_, err := s.Schedule(ScheduledRun{ID: "late", RunAt: base.Add(2 * time.Minute), Spec: countingSpec(&runs)})
		require.NoError(t, err)
		_, err = s.Schedule(ScheduledRun{ID: "early", RunAt: base, Spec: countingSpec(&runs)})
		require.NoError(t, err)

		list := s.List()
		require.Len(t, list, 2)
		require.Equal(t, "early", list[0].ID)
		require.Equal(t, "late", list[1].ID)
	})

	t.Run("stop clears pending runs", func(t *testing.T) {
		s := NewScheduler(NewRunner())

		var runs atomic.Int64
		_, err := s.Schedule(ScheduledRun{RunAt: time.Now().Add(20 * time.Millisecond), Spec: countingSpec(&runs)})
		require.NoError(t, err)
		s.Stop()

		require.Empty(t, s.List())
		_, err = s.Schedule(ScheduledRun{RunAt: time.Now(), Spec: countingSpec(&runs)})
		require.ErrorIs(t, err, types.ErrRunnerClosed)

		time.Sleep(60 * time.Millisecond)
		require.Zero(t, runs.Load())
	})
}

func TestScheduler_AdmissionConflict(t *testing.T) {
	r := NewRunner()
	s := NewScheduler(r)
	defer s.Stop()

	key := &AdmissionKey{CourseID: 5, AssignmentID: 77, TeacherID: 100}
	release := make(chan struct{})
	defer close(release)

	_, err := r.Submit(t.Context(), Spec{Kind: "automatic", Key: key, Run: blockUntil(release)})
	require.NoError(t, err)

	var runs atomic.Int64
	spec := countingSpec(&runs)
	spec.Key = key
	_, err = s.Schedule(ScheduledRun{RunAt: time.Now(), Spec: spec})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.List()) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, runs.Load())
	require.Len(t, r.Jobs(), 1)
}
