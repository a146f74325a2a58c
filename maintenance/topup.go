package maintenance

import (
	"context"
	"fmt"
	"slices"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/matching"
	"github.com/arloliu/peerpair/types"
)

// ReplaceRequest starts ReplaceUnsubmittedPairs.
type ReplaceRequest struct {
	CourseID     int64 `json:"courseId"`
	AssignmentID int64 `json:"assignmentId"`

	// PairsPerGrader is the number of reviews every submitter should give.
	PairsPerGrader int  `json:"pairsPerGrader"`
	Notify         bool `json:"notify"`
}

// FillRequest starts FillMissingPairs.
type FillRequest struct {
	CourseID     int64 `json:"courseId"`
	AssignmentID int64 `json:"assignmentId"`

	// MinPairs is the number of regular reviews every student should give.
	MinPairs int  `json:"minPairs"`
	Notify   bool `json:"notify"`
}

// topUpRun is the state shared by all graders of one repair run.
type topUpRun struct {
	teacher    types.User
	assignment types.Assignment
	gets       map[types.UserID]int
	users      *userCache
	rng        matching.Source
	notify     bool
}

// topUp adds pairings from grader to the least reviewed candidates until
// needed pairings were created or the candidates run out.
func (m *Maintainer) topUp(ctx context.Context, t *topUpRun, grader types.User, needed int, candidates []types.UserID) (int, error) {
	created := 0
	for created < needed && len(candidates) > 0 {
		rid := matching.RankLeastReviewed(t.gets, candidates, t.rng)[0]
		candidates = slices.DeleteFunc(candidates, func(id types.UserID) bool { return id == rid })

		recipient, err := t.users.get(ctx, rid)
		if err != nil {
			return created, fmt.Errorf("failed to load recipient %d: %w", rid, err)
		}

		pairing, err := m.ledger.CreatePairing(ctx, ledger.CreateRequest{
			Creator:    t.teacher,
			Grader:     grader,
			Recipient:  recipient,
			Assignment: t.assignment,
			Kind:       types.KindStudent,
		})
		if err != nil {
			if types.IsConflict(err) {
				continue
			}

			return created, fmt.Errorf("failed to create pairing %d -> %d: %w", grader.ID, rid, err)
		}

		m.logger.Debug("pair created", "grader_id", grader.ID, "recipient_id", rid)
		t.gets[rid]++
		created++
		if t.notify {
			m.notifyPairing(ctx, pairing)
		}
	}

	return created, nil
}

// ReplaceUnsubmittedPairs removes pairings whose recipient has no eligible
// submission and tops every remaining submitter up to PairsPerGrader reviews.
//
// Submitters are the recipients of the remaining pairings. Each missing
// review goes to the submitter receiving the fewest reviews that the grader
// is not paired with yet.
//
// Parameters:
//   - ctx: Context for roster and ledger calls
//   - req: Course, assignment and the reviews per submitter
//   - p: Progress handle (a fresh one when nil)
//
// Returns:
//   - jobs.Result: Number of created pairings; the message also reports deletions
//   - error: Roster, directory or store failure
func (m *Maintainer) ReplaceUnsubmittedPairs(ctx context.Context, req ReplaceRequest, p *jobs.Progress) (jobs.Result, error) {
	p = m.progress(p, KindReplaceUnsubmitted)
	if req.PairsPerGrader < 1 {
		return finish(p, jobs.Result{}, fmt.Errorf("%w: pairs per grader must be at least 1", types.ErrInvalidConfig))
	}

	_ = p.Transition(types.RunLoadingRoster)
	t, err := m.newTopUp(ctx, req.CourseID, req.AssignmentID, KindReplaceUnsubmitted, req.Notify)
	if err != nil {
		return finish(p, jobs.Result{}, err)
	}
	subs, err := m.submissions(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return finish(p, jobs.Result{}, err)
	}
	records, err := m.ledger.List(ctx, ledger.Filter{CourseID: req.CourseID, AssignmentID: req.AssignmentID})
	if err != nil {
		return finish(p, jobs.Result{}, fmt.Errorf("failed to list pairings: %w", err))
	}
	p.Set(20, "")

	_ = p.Transition(types.RunComputingMatches)
	deleted := 0
	var valid []types.Pairing
	for _, rec := range records {
		recipient, err := t.users.get(ctx, rec.Pairing.RecipientID)
		if err != nil {
			return finish(p, jobs.Result{}, fmt.Errorf("failed to load recipient %d: %w", rec.Pairing.RecipientID, err))
		}
		if subs.eligible(recipient) {
			if rec.Pairing.Kind == types.KindStudent {
				valid = append(valid, rec.Pairing)
			}
			continue
		}

		if err := m.ledger.Delete(ctx, rec.Pairing.ID); err != nil {
			return finish(p, jobs.Result{}, fmt.Errorf("failed to delete pairing %s: %w", rec.Pairing.ID, err))
		}
		deleted++
	}
	m.logger.Info("deleted pairs with empty submissions", "assignment_id", req.AssignmentID, "deleted", deleted)
	p.Set(40, "")

	gives := make(map[types.UserID]int)
	paired := make(map[types.UserID]map[types.UserID]bool)
	for _, pr := range valid {
		t.gets[pr.RecipientID]++
		gives[pr.GraderID]++
		if paired[pr.GraderID] == nil {
			paired[pr.GraderID] = make(map[types.UserID]bool)
		}
		paired[pr.GraderID][pr.RecipientID] = true
	}
	submitters := sortedIDs(t.gets)

	_ = p.Transition(types.RunPersistingPairs)
	res := jobs.Result{}
	for i, gid := range submitters {
		p.Set(40+(i+1)*60/len(submitters), "")

		needed := req.PairsPerGrader - gives[gid]
		if needed <= 0 {
			continue
		}

		candidates := slices.DeleteFunc(slices.Clone(submitters), func(id types.UserID) bool {
			return id == gid || paired[gid][id]
		})
		if len(candidates) == 0 {
			m.logger.Warn("no unique partner for grader, skipping", "grader_id", gid)
			continue
		}

		grader, err := t.users.get(ctx, gid)
		if err != nil {
			return finish(p, res, fmt.Errorf("failed to load grader %d: %w", gid, err))
		}

		created, err := m.topUp(ctx, t, grader, needed, candidates)
		res.Created += created
		if err != nil {
			return finish(p, res, err)
		}
	}

	res.Message = fmt.Sprintf("Deleted %d pairs with empty submissions. Created %d new pairings.", deleted, res.Created)
	m.logger.Info("replace unsubmitted pairs completed", "assignment_id", req.AssignmentID, "deleted", deleted, "created", res.Created)

	return finish(p, res, nil)
}

// FillMissingPairs tops every student with a submission entry up to MinPairs
// regular reviews.
//
// Extra reviews a student requested for themselves (pairings where the
// grader is also the creator) do not count towards MinPairs. Recipients are
// students with an eligible submission, least reviewed first.
//
// Returns:
//   - jobs.Result: Number of created pairings
//   - error: Roster, directory or store failure
func (m *Maintainer) FillMissingPairs(ctx context.Context, req FillRequest, p *jobs.Progress) (jobs.Result, error) {
	p = m.progress(p, KindFillMissing)
	if req.MinPairs < 1 {
		return finish(p, jobs.Result{}, fmt.Errorf("%w: minimum pairs must be at least 1", types.ErrInvalidConfig))
	}

	_ = p.Transition(types.RunLoadingRoster)
	t, err := m.newTopUp(ctx, req.CourseID, req.AssignmentID, KindFillMissing, req.Notify)
	if err != nil {
		return finish(p, jobs.Result{}, err)
	}
	subs, err := m.submissions(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return finish(p, jobs.Result{}, err)
	}

	platform := make([]types.User, 0, len(subs))
	for ext := range subs {
		platform = append(platform, types.User{ExternalID: ext})
	}
	students, err := m.directory.EnsureUsers(ctx, platform, false)
	if err != nil {
		return finish(p, jobs.Result{}, fmt.Errorf("failed to resolve students: %w", err))
	}

	records, err := m.ledger.List(ctx, ledger.Filter{CourseID: req.CourseID, AssignmentID: req.AssignmentID, Kind: types.KindStudent})
	if err != nil {
		return finish(p, jobs.Result{}, fmt.Errorf("failed to list pairings: %w", err))
	}
	p.Set(30, "")

	_ = p.Transition(types.RunComputingMatches)
	byID := make(map[types.UserID]types.User, len(students))
	var submitted []types.UserID
	for _, u := range students {
		byID[u.ID] = u
		t.users.users[u.ID] = u
		if subs.eligible(u) {
			submitted = append(submitted, u.ID)
			t.gets[u.ID] = 0
		}
	}
	slices.Sort(submitted)

	paired := make(map[types.UserID][]types.UserID)
	for _, rec := range records {
		pr := rec.Pairing
		if pr.GraderID == pr.CreatorID {
			continue
		}
		t.gets[pr.RecipientID]++
		paired[pr.GraderID] = append(paired[pr.GraderID], pr.RecipientID)
	}

	_ = p.Transition(types.RunPersistingPairs)
	graders := sortedIDs(byID)
	res := jobs.Result{}
	for i, gid := range graders {
		p.Set(30+(i+1)*70/len(graders), "")

		needed := req.MinPairs - len(paired[gid])
		if needed <= 0 {
			continue
		}

		candidates := slices.DeleteFunc(slices.Clone(submitted), func(id types.UserID) bool {
			return id == gid || slices.Contains(paired[gid], id)
		})
		if len(candidates) == 0 {
			m.logger.Warn("no submitter to pair with grader", "grader_id", gid)
			continue
		}

		created, err := m.topUp(ctx, t, byID[gid], needed, candidates)
		res.Created += created
		if err != nil {
			return finish(p, res, err)
		}
	}

	res.Message = fmt.Sprintf("Created %d new pairs.", res.Created)
	m.logger.Info("fill missing pairs completed", "assignment_id", req.AssignmentID, "created", res.Created)

	return finish(p, res, nil)
}

func (m *Maintainer) newTopUp(ctx context.Context, courseID, assignmentID int64, kind string, notify bool) (*topUpRun, error) {
	teacher, err := m.courseTeacher(ctx, courseID)
	if err != nil {
		return nil, err
	}

	assignment, err := m.roster.Assignment(ctx, courseID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}

	return &topUpRun{
		teacher:    teacher,
		assignment: assignment,
		gets:       make(map[types.UserID]int),
		users:      newUserCache(m.directory),
		rng:        m.rngFor(kind, courseID, assignmentID),
		notify:     notify,
	}, nil
}
