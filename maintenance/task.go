package maintenance

import (
	"context"
	"fmt"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/matching"
	"github.com/arloliu/peerpair/types"
)

// ReplaceTaskRequest starts ReplaceTask.
type ReplaceTaskRequest struct {
	TaskID string `json:"taskId"`
	Notify bool   `json:"notify"`
}

// ReplaceTask archives a task whose submission disappeared and gives the
// grader a fresh pairing instead.
//
// The new recipient is the least reviewed student with an eligible
// submission who is not paired with the grader yet, archived pairings
// included. The grader is recorded as creator of the new pairing.
//
// Parameters:
//   - ctx: Context for roster and ledger calls
//   - req: Task to replace
//   - p: Progress handle (a fresh one when nil)
//
// Returns:
//   - jobs.Result: PairingID holds the new pairing
//   - error: types.ErrTaskNotFound, types.ErrNoSuitableRecipient, roster or
//     store failures; the task stays archived when no recipient is found
func (m *Maintainer) ReplaceTask(ctx context.Context, req ReplaceTaskRequest, p *jobs.Progress) (jobs.Result, error) {
	p = m.progress(p, KindReplaceTask)

	_ = p.Transition(types.RunLoadingRoster)
	rec, err := m.ledger.ArchiveTask(ctx, req.TaskID)
	if err != nil {
		return finish(p, jobs.Result{}, err)
	}
	p.Set(20, "")

	task := rec.Task
	grader, err := m.directory.User(ctx, task.UserID)
	if err != nil {
		return finish(p, jobs.Result{}, fmt.Errorf("failed to load grader %d: %w", task.UserID, err))
	}

	assignment, err := m.roster.Assignment(ctx, task.CourseID, task.AssignmentID)
	if err != nil {
		return finish(p, jobs.Result{}, fmt.Errorf("failed to load assignment: %w", err))
	}
	subs, err := m.submissions(ctx, task.CourseID, task.AssignmentID)
	if err != nil {
		return finish(p, jobs.Result{}, err)
	}

	all, err := m.ledger.List(ctx, ledger.Filter{CourseID: task.CourseID, AssignmentID: task.AssignmentID, IncludeArchived: true})
	if err != nil {
		return finish(p, jobs.Result{}, fmt.Errorf("failed to list pairings: %w", err))
	}

	counts, err := m.ledger.ReviewCounts(ctx, task.CourseID, task.AssignmentID, "")
	if err != nil {
		return finish(p, jobs.Result{}, fmt.Errorf("failed to count reviews: %w", err))
	}

	_ = p.Transition(types.RunComputingMatches)
	known := make(map[types.UserID]bool)
	excluded := map[types.UserID]bool{grader.ID: true}
	for _, r := range all {
		known[r.Pairing.RecipientID] = true
		if r.Pairing.GraderID == grader.ID {
			excluded[r.Pairing.RecipientID] = true
		}
	}

	var candidates []types.UserID
	for _, id := range sortedIDs(known) {
		if !excluded[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return finish(p, jobs.Result{}, fmt.Errorf("%w: %s", types.ErrNoSuitableRecipient, MsgNoSubmissions))
	}

	users := newUserCache(m.directory)
	var recipient *types.User
	for _, id := range matching.RankLeastReviewed(counts, candidates, m.rngFor(KindReplaceTask, task.CourseID, task.AssignmentID)) {
		u, err := users.get(ctx, id)
		if err != nil {
			return finish(p, jobs.Result{}, fmt.Errorf("failed to load recipient %d: %w", id, err))
		}
		if subs.eligible(u) {
			recipient = &u
			break
		}
	}
	p.Set(50, "")

	if recipient == nil {
		return finish(p, jobs.Result{}, fmt.Errorf("%w: %s", types.ErrNoSuitableRecipient, MsgNoSuitableStudent))
	}

	_ = p.Transition(types.RunPersistingPairs)
	pairing, err := m.ledger.CreatePairing(ctx, ledger.CreateRequest{
		Creator:    grader,
		Grader:     grader,
		Recipient:  *recipient,
		Assignment: assignment,
		Kind:       rec.Pairing.Kind,
	})
	if err != nil {
		return finish(p, jobs.Result{}, fmt.Errorf("failed to create replacement pairing: %w", err))
	}
	if req.Notify {
		m.notifyPairing(ctx, pairing)
	}

	m.logger.Info("task replaced", "task_id", req.TaskID, "grader_id", grader.ID, "recipient_id", recipient.ID, "pairing_id", pairing.ID)

	return finish(p, jobs.Result{Message: MsgTaskReplaced, Created: 1, PairingID: pairing.ID}, nil)
}
