package peerpair

import (
	"context"
	"fmt"

	"github.com/arloliu/peerpair/allocation"
	"github.com/arloliu/peerpair/intake"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/maintenance"
)

var _ intake.Submitter = (*Service)(nil)

// SubmitAutomatic starts an automatic pairing run.
//
// Only one automatic run per course, assignment and teacher is admitted at a
// time. Assignments configured for intra-group review run the intra-group
// workflow instead.
//
// Parameters:
//   - ctx: Context for admission
//   - req: Run parameters
//
// Returns:
//   - *jobs.Job: The pending job
//   - error: ErrInvalidConfig for a malformed request, ErrAutomaticPairingExists
//     when a run for the same key is in progress, ErrNotStarted before Start
//
// Example:
//
//	job, err := svc.SubmitAutomatic(ctx, allocation.AutomaticRequest{
//	    CourseID:     5,
//	    AssignmentID: 77,
//	    Rounds:       2,
//	    Creator:      teacher,
//	})
//	if err != nil {
//	    return err
//	}
//	res, err := job.Wait(ctx)
func (s *Service) SubmitAutomatic(ctx context.Context, req allocation.AutomaticRequest) (*jobs.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return s.runner.Submit(ctx, s.automaticSpec(req))
}

func (s *Service) automaticSpec(req allocation.AutomaticRequest) jobs.Spec {
	key := req.AdmissionKey()

	return jobs.Spec{
		Kind: allocation.KindAutomatic,
		Key:  &key,
		Run: func(ctx context.Context, p *jobs.Progress) (jobs.Result, error) {
			return s.alloc.RunAutomatic(ctx, req, p)
		},
	}
}

// SubmitIntraGroup starts an intra-group round robin regardless of the
// assignment settings.
func (s *Service) SubmitIntraGroup(ctx context.Context, req allocation.AutomaticRequest) (*jobs.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	if req.CourseID == 0 || req.AssignmentID == 0 {
		return nil, fmt.Errorf("%w: course and assignment are required", ErrInvalidConfig)
	}

	return s.runner.Submit(ctx, jobs.Spec{
		Kind: allocation.KindIntraGroup,
		Run: func(ctx context.Context, p *jobs.Progress) (jobs.Result, error) {
			return s.alloc.RunIntraGroup(ctx, req, p)
		},
	})
}

// SubmitCSV starts an explicit pairing run from parsed CSV records.
//
// Example:
//
//	records, err := allocation.ParseCSV(file)
//	job, err := svc.SubmitCSV(ctx, allocation.CSVRequest{
//	    CourseID:     5,
//	    AssignmentID: 77,
//	    Records:      records,
//	    GraderType:   peerpair.KindStudent,
//	    Creator:      teacher,
//	})
func (s *Service) SubmitCSV(ctx context.Context, req allocation.CSVRequest) (*jobs.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return s.runner.Submit(ctx, jobs.Spec{
		Kind: allocation.KindCSV,
		Run: func(ctx context.Context, p *jobs.Progress) (jobs.Result, error) {
			return s.alloc.RunCSV(ctx, req, p)
		},
	})
}

// SubmitTAAllocation starts a TA allocation; a second run for the same
// assignment rebalances the existing TA pairings.
func (s *Service) SubmitTAAllocation(ctx context.Context, req allocation.TARequest) (*jobs.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return s.runner.Submit(ctx, jobs.Spec{
		Kind: allocation.KindTAAllocation,
		Run: func(ctx context.Context, p *jobs.Progress) (jobs.Result, error) {
			return s.alloc.RunTAAllocation(ctx, req, p)
		},
	})
}

// Preview computes the matches an automatic run would create without
// persisting anything. It runs synchronously.
func (s *Service) Preview(ctx context.Context, req allocation.AutomaticRequest) (allocation.Preview, error) {
	return s.alloc.Preview(ctx, req)
}

// SubmitReplaceUnsubmitted removes pairings whose recipient did not submit
// and tops every submitter up to req.PairsPerGrader.
func (s *Service) SubmitReplaceUnsubmitted(ctx context.Context, req maintenance.ReplaceRequest) (*jobs.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}

	return s.runner.Submit(ctx, jobs.Spec{
		Kind: maintenance.KindReplaceUnsubmitted,
		Run: func(ctx context.Context, p *jobs.Progress) (jobs.Result, error) {
			return s.maint.ReplaceUnsubmittedPairs(ctx, req, p)
		},
	})
}

// SubmitFillMissing tops every student up to req.MinPairs regular pairings.
func (s *Service) SubmitFillMissing(ctx context.Context, req maintenance.FillRequest) (*jobs.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}

	return s.runner.Submit(ctx, jobs.Spec{
		Kind: maintenance.KindFillMissing,
		Run: func(ctx context.Context, p *jobs.Progress) (jobs.Result, error) {
			return s.maint.FillMissingPairs(ctx, req, p)
		},
	})
}

// SubmitReplaceTask archives a task and pairs its grader with a new recipient.
func (s *Service) SubmitReplaceTask(ctx context.Context, req maintenance.ReplaceTaskRequest) (*jobs.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidConfig)
	}

	return s.runner.Submit(ctx, jobs.Spec{
		Kind: maintenance.KindReplaceTask,
		Run: func(ctx context.Context, p *jobs.Progress) (jobs.Result, error) {
			return s.maint.ReplaceTask(ctx, req, p)
		},
	})
}

// ScheduleAutomatic schedules an automatic run at the assignment due date
// plus Config.Schedule.Offset.
//
// Parameters:
//   - ctx: Context for the assignment lookup
//   - req: Run parameters used when the run fires
//
// Returns:
//   - jobs.ScheduledRun: The registered run
//   - error: ErrNoDueDate when the assignment has no due date, ErrInvalidConfig
//     for a malformed request, roster errors
func (s *Service) ScheduleAutomatic(ctx context.Context, req allocation.AutomaticRequest) (jobs.ScheduledRun, error) {
	if err := s.checkStarted(); err != nil {
		return jobs.ScheduledRun{}, err
	}
	if err := req.Validate(); err != nil {
		return jobs.ScheduledRun{}, err
	}

	assignment, err := s.roster.Assignment(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return jobs.ScheduledRun{}, err
	}
	if assignment.DueAt == nil {
		return jobs.ScheduledRun{}, fmt.Errorf("%w: assignment %d", ErrNoDueDate, req.AssignmentID)
	}

	offset := s.cfg.Schedule.Offset

	return s.scheduler.Schedule(jobs.ScheduledRun{
		CourseID:     req.CourseID,
		AssignmentID: req.AssignmentID,
		RunAt:        assignment.DueAt.Add(offset),
		Offset:       offset,
		Spec:         s.automaticSpec(req),
	})
}

// CancelSchedule removes a pending scheduled run.
//
// Returns:
//   - error: ErrScheduleNotFound if unknown or already fired
func (s *Service) CancelSchedule(id string) error {
	return s.scheduler.Cancel(id)
}

// Schedules returns the pending scheduled runs ordered by run time.
func (s *Service) Schedules() []jobs.ScheduledRun {
	return s.scheduler.List()
}

// SyncSchedules realigns scheduled runs with the current assignment due dates
// once. A running service also does this every Config.Schedule.SyncInterval.
func (s *Service) SyncSchedules(ctx context.Context) (maintenance.SyncReport, error) {
	return s.maint.SyncSchedules(ctx, s.scheduler)
}

func (s *Service) syncOnce(ctx context.Context) error {
	report, err := s.SyncSchedules(ctx)
	if len(report.Cancelled) > 0 || len(report.Rescheduled) > 0 {
		s.logger.Info("scheduled runs synced",
			"cancelled", len(report.Cancelled),
			"rescheduled", len(report.Rescheduled),
			"unchanged", report.Unchanged,
		)
	}

	return err
}
