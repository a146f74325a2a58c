package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/types"
)

// DefaultScheduleOffset is the distance between an assignment's due date and
// its automatic pairing run when a scheduled run carries no offset.
const DefaultScheduleOffset = time.Hour

// Schedules is the part of jobs.Scheduler that SyncSchedules needs.
type Schedules interface {
	List() []jobs.ScheduledRun
	Cancel(id string) error
	Reschedule(id string, runAt time.Time) error
}

var _ Schedules = (*jobs.Scheduler)(nil)

// SyncReport lists what SyncSchedules changed.
type SyncReport struct {
	Cancelled   []string `json:"cancelled,omitempty"`
	Rescheduled []string `json:"rescheduled,omitempty"`
	Unchanged   int      `json:"unchanged"`
}

// SyncSchedules aligns scheduled automatic runs with the current assignment
// due dates.
//
// A run whose assignment lost its due date is cancelled. A run whose RunAt
// no longer equals due date plus offset is moved there. Runs that fire while
// the sync is in progress are left alone.
//
// Returns:
//   - SyncReport: Cancelled and rescheduled run IDs
//   - error: Roster failures, joined per run; the remaining runs are still synced
func (m *Maintainer) SyncSchedules(ctx context.Context, schedules Schedules) (SyncReport, error) {
	var (
		report SyncReport
		errs   []error
	)

	runs := schedules.List()
	m.logger.Info("syncing pairing schedules with assignment due dates", "runs", len(runs))

	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		assignment, err := m.roster.Assignment(ctx, run.CourseID, run.AssignmentID)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", run.ID, err))
			continue
		}

		if assignment.DueAt == nil {
			if err := schedules.Cancel(run.ID); err != nil {
				if !errors.Is(err, types.ErrScheduleNotFound) {
					errs = append(errs, err)
				}
				continue
			}
			m.logger.Info("cancelled scheduled run, due date removed", "schedule_id", run.ID, "assignment", assignment.Name)
			report.Cancelled = append(report.Cancelled, run.ID)

			continue
		}

		offset := run.Offset
		if offset <= 0 {
			offset = DefaultScheduleOffset
		}
		expected := assignment.DueAt.Add(offset)
		if run.RunAt.Equal(expected) {
			report.Unchanged++
			continue
		}

		if err := schedules.Reschedule(run.ID, expected); err != nil {
			if !errors.Is(err, types.ErrScheduleNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		m.logger.Info("scheduled run moved", "schedule_id", run.ID, "assignment", assignment.Name, "run_at", expected)
		report.Rescheduled = append(report.Rescheduled, run.ID)
	}

	return report, errors.Join(errs...)
}
