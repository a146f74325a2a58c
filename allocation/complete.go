package allocation

import (
	"context"
	"time"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/types"
)

// runInfo identifies a run for summaries and snapshots.
type runInfo struct {
	kind         string
	courseID     int64
	assignmentID int64
	rounds       int
	creator      types.User
}

// notifyTimeout bounds the enqueue of a single notification.
const notifyTimeout = 5 * time.Second

func (o *Orchestrator) notifyPairing(ctx context.Context, pairing types.Pairing) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := o.notifier.PairingCreated(ctx, pairing); err != nil {
		o.logger.Warn("pairing notification failed", "pairing_id", pairing.ID, "error", err)
	}
}

// complete finishes a run: it moves the progress to its final state, sends
// the run summary and archives the allocation. Neither the notifier nor the
// archive can change the outcome.
func (o *Orchestrator) complete(ctx context.Context, run runInfo, pl *plan, res jobs.Result, err error, p *jobs.Progress) (jobs.Result, error) {
	if err != nil {
		res.Status = jobs.ResultError
		res.Message = err.Error()
		o.logger.Error("pairing run failed", "kind", run.kind, "course_id", run.courseID,
			"assignment_id", run.assignmentID, "created", res.Created, "error", err)
	} else {
		res.Status = jobs.ResultSuccess
		_ = p.Transition(types.RunNotifying)
		o.logger.Info("pairing run completed", "kind", run.kind, "course_id", run.courseID,
			"assignment_id", run.assignmentID, "created", res.Created, "skipped", len(res.Skipped))
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	summary := types.RunSummary{
		Kind:         run.kind,
		CourseID:     run.courseID,
		AssignmentID: run.assignmentID,
		Created:      res.Created,
		Skipped:      res.Skipped,
		Success:      err == nil,
		Message:      res.Message,
		FinishedAt:   o.now(),
	}
	if nerr := o.notifier.RunCompleted(notifyCtx, summary); nerr != nil {
		o.logger.Warn("run notification failed", "kind", run.kind, "error", nerr)
	}

	if o.archive != nil && pl != nil {
		o.archiveSnapshot(notifyCtx, run, pl, res, err == nil)
	}

	if err != nil {
		p.Fail(err)
		return res, err
	}
	_ = p.Transition(types.RunDone)

	return res, nil
}

func (o *Orchestrator) archiveSnapshot(ctx context.Context, run runInfo, pl *plan, res jobs.Result, success bool) {
	snap := types.AllocationSnapshot{
		Kind:         run.kind,
		CourseID:     run.courseID,
		AssignmentID: run.assignmentID,
		Rounds:       run.rounds,
		CreatorID:    run.creator.ID,
		Matches:      make([]types.SnapshotMatch, 0, len(pl.matches)),
		Created:      res.Created,
		Skipped:      res.Skipped,
		Success:      success,
		Message:      res.Message,
		CreatedAt:    o.now().UTC(),
	}
	if pl.study != nil {
		snap.StudyID = pl.study.ID
	}
	for _, m := range pl.matches {
		snap.Matches = append(snap.Matches, types.SnapshotMatch{GraderID: m.Grader, RecipientIDs: m.Recipients})
	}

	key, err := o.archive.PutSnapshot(ctx, snap)
	if err != nil {
		o.logger.Warn("failed to archive allocation", "kind", run.kind, "error", err)
		return
	}
	o.logger.Debug("allocation archived", "kind", run.kind, "key", key)
}
