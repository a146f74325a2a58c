package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/types"
)

// ScheduledRun is a job submitted to the Runner at RunAt.
type ScheduledRun struct {
	ID           string        `json:"id"`
	CourseID     int64         `json:"courseId"`
	AssignmentID int64         `json:"assignmentId"`
	RunAt        time.Time     `json:"runAt"`
	Offset       time.Duration `json:"offset"` // distance from the assignment due date
	Spec         Spec          `json:"-"`
}

type scheduledEntry struct {
	run   ScheduledRun
	timer *time.Timer
}

// Scheduler submits runs to a Runner at a later time.
//
// Runs are held in memory and keyed by ID. A run fires at most once; once it
// has been submitted it can no longer be cancelled or rescheduled.
type Scheduler struct {
	runner  *Runner
	logger  types.Logger
	metrics types.MetricsCollector
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*scheduledEntry
	stopped bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger types.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSchedulerMetrics sets the scheduler metrics collector.
func WithSchedulerMetrics(m types.MetricsCollector) SchedulerOption {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSchedulerClock overrides the time source used to compute delays.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a scheduler submitting to runner.
func NewScheduler(runner *Runner, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:  runner,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		now:     time.Now,
		entries: make(map[string]*scheduledEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule registers run. A zero ID gets a generated one; a RunAt in the
// past fires immediately.
//
// Parameters:
//   - run: The run to schedule; run.Spec.Run must be set
//
// Returns:
//   - ScheduledRun: The registered run with its ID
//   - error: Invalid run, duplicate ID or stopped scheduler
//
// Example:
//
//	run, err := sched.Schedule(jobs.ScheduledRun{
//	    CourseID:     5,
//	    AssignmentID: 77,
//	    RunAt:        due.Add(time.Hour),
//	    Offset:       time.Hour,
//	    Spec:         spec,
//	})
func (s *Scheduler) Schedule(run ScheduledRun) (ScheduledRun, error) {
	if run.Spec.Run == nil {
		return ScheduledRun{}, fmt.Errorf("%w: scheduled run has no body", types.ErrInvalidConfig)
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ScheduledRun{}, types.ErrRunnerClosed
	}
	if _, exists := s.entries[run.ID]; exists {
		return ScheduledRun{}, fmt.Errorf("%w: scheduled run %s already exists", types.ErrInvalidConfig, run.ID)
	}

	s.entries[run.ID] = &scheduledEntry{run: run, timer: s.arm(run)}
	s.metrics.RecordScheduledRuns(len(s.entries))
	s.logger.Info("run scheduled", "schedule_id", run.ID, "course_id", run.CourseID,
		"assignment_id", run.AssignmentID, "run_at", run.RunAt)

	return run, nil
}

func (s *Scheduler) arm(run ScheduledRun) *time.Timer {
	delay := max(run.RunAt.Sub(s.now()), 0)
	id := run.ID

	return time.AfterFunc(delay, func() { s.fire(id) })
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
		s.metrics.RecordScheduledRuns(len(s.entries))
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	job, err := s.runner.Submit(context.Background(), entry.run.Spec)
	if err != nil {
		if errors.Is(err, types.ErrAutomaticPairingExists) {
			s.logger.Warn("scheduled run skipped", "schedule_id", id, "error", err)
		} else {
			s.logger.Error("scheduled run failed to submit", "schedule_id", id, "error", err)
		}

		return
	}
	s.logger.Info("scheduled run submitted", "schedule_id", id, "job_id", job.ID())
}

// Cancel removes a pending run.
//
// Returns:
//   - error: types.ErrScheduleNotFound if unknown or already fired
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrScheduleNotFound, id)
	}

	entry.timer.Stop()
	delete(s.entries, id)
	s.metrics.RecordScheduledRuns(len(s.entries))
	s.logger.Info("scheduled run cancelled", "schedule_id", id)

	return nil
}

// Reschedule moves a pending run to runAt.
//
// Returns:
//   - error: types.ErrScheduleNotFound if unknown or already fired
func (s *Scheduler) Reschedule(id string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || !entry.timer.Stop() {
		return fmt.Errorf("%w: %s", types.ErrScheduleNotFound, id)
	}

	previous := entry.run.RunAt
	entry.run.RunAt = runAt
	entry.timer = s.arm(entry.run)
	s.logger.Info("run rescheduled", "schedule_id", id, "from", previous, "to", runAt)

	return nil
}

// Get returns the pending run with the given ID.
func (s *Scheduler) Get(id string) (ScheduledRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ScheduledRun{}, false
	}

	return entry.run, true
}

// List returns the pending runs ordered by RunAt.
func (s *Scheduler) List() []ScheduledRun {
	s.mu.Lock()
	out := make([]ScheduledRun, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.run)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b ScheduledRun) int {
		return a.RunAt.Compare(b.RunAt)
	})

	return out
}

// Stop cancels every pending run and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, id)
	}
	s.stopped = true
	s.metrics.RecordScheduledRuns(0)
}
