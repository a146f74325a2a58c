package allocation

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/matching"
	"github.com/arloliu/peerpair/types"
)

// TAAllocation is the number of students one TA reviews.
type TAAllocation struct {
	TAID         types.UserID `json:"taId"`
	StudentCount int          `json:"studentCount"`
}

// TARequest starts a TA allocation run.
type TARequest struct {
	CourseID     int64          `json:"courseId"`
	AssignmentID int64          `json:"assignmentId"`
	Allocations  []TAAllocation `json:"allocations"`
	Creator      types.User     `json:"creator"`
	Notify       bool           `json:"notify"`
}

// Validate checks the allocation list before any roster call.
func (r TARequest) Validate() error {
	if r.CourseID == 0 || r.AssignmentID == 0 {
		return fmt.Errorf("%w: course and assignment are required", types.ErrInvalidConfig)
	}
	if len(r.Allocations) == 0 {
		return fmt.Errorf("%w: no allocations given", types.ErrInvalidAllocation)
	}

	seen := make(map[types.UserID]struct{}, len(r.Allocations))
	for _, a := range r.Allocations {
		if a.TAID == 0 || a.StudentCount < 0 {
			return fmt.Errorf("%w: every allocation needs a TA and a non-negative count", types.ErrInvalidAllocation)
		}
		if _, dup := seen[a.TAID]; dup {
			return fmt.Errorf("%w: TA %d listed twice", types.ErrInvalidAllocation, a.TAID)
		}
		seen[a.TAID] = struct{}{}
	}

	return nil
}

// RunTAAllocation distributes the students of a course among TAs.
//
// The first run partitions all enrolled students at random so that every TA
// receives exactly its StudentCount. When TA pairings already exist for the
// assignment the run rebalances instead: TAs above their new count give up
// pairs whose feedback is still a draft, and the freed students go to TAs
// below their count.
//
// Parameters:
//   - ctx: Context for roster and ledger calls
//   - req: TA counts; the counts must add up to the number of students on a
//     first run, and surpluses must equal shortages on a rebalance
//   - p: Progress handle (a fresh one when nil)
//
// Returns:
//   - jobs.Result: Success result with the number of created pairings
//   - error: types.ErrInvalidAllocation, types.ErrReassignmentMismatch,
//     types.ErrCourseNotConfigured, roster or store errors
func (o *Orchestrator) RunTAAllocation(ctx context.Context, req TARequest, p *jobs.Progress) (jobs.Result, error) {
	p = progressOrNew(p, KindTAAllocation, o.logger, o.metrics)
	run := runInfo{kind: KindTAAllocation, courseID: req.CourseID, assignmentID: req.AssignmentID, creator: req.Creator}

	if err := req.Validate(); err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}

	_ = p.Transition(types.RunLoadingRoster)
	p.Set(0, msgLoadingRoster)

	if _, err := o.ledger.Settings(ctx, req.CourseID, req.AssignmentID); err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}

	existing, err := o.ledger.List(ctx, ledger.Filter{CourseID: req.CourseID, AssignmentID: req.AssignmentID, Kind: types.KindTA})
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, fmt.Errorf("failed to list TA pairings: %w", err), p)
	}

	assignment, err := o.roster.Assignment(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, fmt.Errorf("failed to load assignment: %w", err), p)
	}

	if len(existing) > 0 {
		o.logger.Info("TA pairings exist, rebalancing", "assignment_id", req.AssignmentID, "pairings", len(existing))
		pl, res, err := o.reassignTAs(ctx, req, assignment, p)

		return o.complete(ctx, run, pl, res, err, p)
	}

	pl, err := o.planTAAllocation(ctx, req, assignment, p)
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}

	res := jobs.Result{Message: MsgTAAllocated}
	res.Created, err = o.persistTAPairs(ctx, pl, req, 15, 85, p)

	return o.complete(ctx, run, pl, res, err, p)
}

func (o *Orchestrator) planTAAllocation(ctx context.Context, req TARequest, assignment types.Assignment, p *jobs.Progress) (*plan, error) {
	students, err := o.roster.Enrollments(ctx, req.CourseID, types.RoleStudent)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}
	p.Set(5, "")

	local, err := o.directory.EnsureUsers(ctx, students, true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve students: %w", err)
	}
	slices.SortFunc(local, func(a, b types.User) int { return cmp.Compare(a.ID, b.ID) })
	p.Set(10, msgGenerateMatches)

	pl := &plan{
		kind:       KindTAAllocation,
		pairKind:   types.KindTA,
		assignment: assignment,
		users:      make(map[types.UserID]types.User, len(local)+len(req.Allocations)),
		attempts:   1,
	}

	ids := make([]types.UserID, 0, len(local))
	for _, u := range local {
		ids = append(ids, u.ID)
		pl.users[u.ID] = u
	}

	buckets := make([]matching.Bucket, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		ta, err := o.directory.User(ctx, a.TAID)
		if err != nil {
			return nil, fmt.Errorf("failed to load TA %d: %w", a.TAID, err)
		}
		pl.users[ta.ID] = ta
		buckets = append(buckets, matching.Bucket{ID: ta.ID, Target: a.StudentCount})
	}

	_ = p.Transition(types.RunComputingMatches)
	filled, err := matching.AllocatePopulationToBuckets(buckets, ids, o.rngFor(KindTAAllocation, req.CourseID, req.AssignmentID))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidAllocation, err)
	}

	for _, b := range filled {
		pl.matches = append(pl.matches, matching.Match{Grader: b.ID, Recipients: b.Assigned})
	}
	p.Set(15, msgCreatingPairs)

	return pl, nil
}

// persistTAPairs writes the planned TA pairs, moving progress from base to
// base+span proportionally.
func (o *Orchestrator) persistTAPairs(ctx context.Context, pl *plan, req TARequest, base, span int, p *jobs.Progress) (int, error) {
	_ = p.Transition(types.RunPersistingPairs)

	total := max(matching.CountPairs(pl.matches), 1)
	count, created := 0, 0
	for _, m := range pl.matches {
		grader := pl.users[m.Grader]
		for _, rid := range m.Recipients {
			count++
			pairing, err := o.ledger.CreatePairing(ctx, ledger.CreateRequest{
				Creator:    req.Creator,
				Grader:     grader,
				Recipient:  pl.users[rid],
				Assignment: pl.assignment,
				Kind:       types.KindTA,
			})
			p.Set(base+count*span/total, "")
			if err != nil {
				if types.IsConflict(err) {
					o.logger.Warn("pair skipped", "grader_id", grader.ID, "recipient_id", rid, "reason", err)
					continue
				}

				return created, fmt.Errorf("failed to create pairing %d -> %d: %w", grader.ID, rid, err)
			}

			created++
			if req.Notify {
				o.notifyPairing(ctx, pairing)
			}
		}
	}

	return created, nil
}

// reassignTAs rebalances existing TA pairings to the requested counts.
//
// Counts cover every pairing a TA grades on the assignment. A TA with a
// surplus frees its oldest draft-feedback pairs, which are deleted; the freed
// students are handed out in order to the TAs with a shortage.
func (o *Orchestrator) reassignTAs(ctx context.Context, req TARequest, assignment types.Assignment, p *jobs.Progress) (*plan, jobs.Result, error) {
	type diff struct {
		taID  types.UserID
		count int
	}

	var extras, shortages []diff
	sumExtra, sumShort := 0, 0
	owned := make(map[types.UserID][]types.PairingRecord, len(req.Allocations))

	for _, a := range req.Allocations {
		records, err := o.ledger.List(ctx, ledger.Filter{CourseID: req.CourseID, AssignmentID: req.AssignmentID, GraderID: a.TAID})
		if err != nil {
			return nil, jobs.Result{}, fmt.Errorf("failed to list pairings of TA %d: %w", a.TAID, err)
		}
		owned[a.TAID] = records

		switch d := len(records) - a.StudentCount; {
		case d > 0:
			extras = append(extras, diff{taID: a.TAID, count: d})
			sumExtra += d
		case d < 0:
			shortages = append(shortages, diff{taID: a.TAID, count: -d})
			sumShort += -d
		}
	}
	p.Set(15, "")

	if sumExtra != sumShort {
		return nil, jobs.Result{}, fmt.Errorf("%w: %d pairs to free, %d pairs needed", types.ErrReassignmentMismatch, sumExtra, sumShort)
	}

	_ = p.Transition(types.RunComputingMatches)

	var freed []types.UserID
	for _, e := range extras {
		drafts := slices.DeleteFunc(slices.Clone(owned[e.taID]), func(r types.PairingRecord) bool { return !r.Feedback.Draft })
		slices.SortFunc(drafts, func(a, b types.PairingRecord) int {
			return cmp.Or(a.Pairing.CreatedAt.Compare(b.Pairing.CreatedAt), cmp.Compare(a.Pairing.ID, b.Pairing.ID))
		})
		if len(drafts) < e.count {
			o.logger.Warn("TA has fewer draft reviews than its surplus", "ta_id", e.taID, "drafts", len(drafts), "surplus", e.count)
		}

		for _, rec := range drafts[:min(e.count, len(drafts))] {
			if err := o.ledger.Delete(ctx, rec.Pairing.ID); err != nil {
				return nil, jobs.Result{}, fmt.Errorf("failed to free pairing %s: %w", rec.Pairing.ID, err)
			}
			freed = append(freed, rec.Pairing.RecipientID)
		}
	}
	p.Set(50, msgCreatingPairs)

	pl := &plan{
		kind:       KindTAAllocation,
		pairKind:   types.KindTA,
		assignment: assignment,
		users:      make(map[types.UserID]types.User),
		attempts:   1,
	}

	start := 0
	for _, s := range shortages {
		end := min(start+s.count, len(freed))
		recipients := freed[start:end]
		start = end

		ta, err := o.directory.User(ctx, s.taID)
		if err != nil {
			return pl, jobs.Result{}, fmt.Errorf("failed to load TA %d: %w", s.taID, err)
		}
		pl.users[ta.ID] = ta

		for _, rid := range recipients {
			u, err := o.directory.User(ctx, rid)
			if err != nil {
				return pl, jobs.Result{}, fmt.Errorf("failed to load student %d: %w", rid, err)
			}
			pl.users[u.ID] = u
		}
		pl.matches = append(pl.matches, matching.Match{Grader: ta.ID, Recipients: slices.Clone(recipients)})
	}

	res := jobs.Result{Message: MsgTAReallocated}
	created, err := o.persistTAPairs(ctx, pl, req, 50, 50, p)
	res.Created = created

	return pl, res, err
}
