package allocation

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/matching"
	"github.com/arloliu/peerpair/types"
)

// AutomaticRequest starts an automatic pairing run.
type AutomaticRequest struct {
	CourseID     int64 `json:"courseId"`
	AssignmentID int64 `json:"assignmentId"`

	// Rounds is the number of recipients every grader reviews.
	Rounds int `json:"rounds"`

	// Creator is the teacher starting the run; pairings record it as creator.
	Creator types.User `json:"creator"`

	// ExcludeDefaulters limits graders to students with an eligible submission.
	ExcludeDefaulters bool `json:"excludeDefaulters"`

	// ExcludedUsernames neither grade nor receive reviews.
	ExcludedUsernames []string `json:"excludedUsernames,omitempty"`

	// Notify sends a notification for every created pairing.
	Notify bool `json:"notify"`
}

// Validate checks the request before any roster call.
func (r AutomaticRequest) Validate() error {
	if r.CourseID == 0 || r.AssignmentID == 0 {
		return fmt.Errorf("%w: course and assignment are required", types.ErrInvalidConfig)
	}
	if r.Rounds < 1 {
		return fmt.Errorf("%w: rounds must be at least 1, got %d", types.ErrInvalidConfig, r.Rounds)
	}

	return nil
}

// AdmissionKey returns the key guarding concurrent runs of this request.
func (r AutomaticRequest) AdmissionKey() jobs.AdmissionKey {
	return jobs.AdmissionKey{CourseID: r.CourseID, AssignmentID: r.AssignmentID, TeacherID: r.Creator.ID}
}

// SplitUsernames parses a comma-separated username list, dropping blanks.
func SplitUsernames(s string) []string {
	var out []string
	for name := range strings.SplitSeq(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}

	return out
}

// plan is the computed, not yet persisted, outcome of a run.
type plan struct {
	kind       string
	pairKind   types.PairingKind
	assignment types.Assignment
	rounds     int
	users      map[types.UserID]types.User
	pop        *population
	matches    []matching.Match
	attempts   int
	study      *types.Study
}

// RunAutomatic pairs the students of an assignment.
//
// When the assignment settings enable intra-group review the run pairs group
// members with each other (see RunIntraGroup). Otherwise every grader receives
// req.Rounds recipients; group assignments without intra-group peer reviews
// never pair members of the same group.
//
// Parameters:
//   - ctx: Context for roster and ledger calls
//   - req: Run parameters
//   - p: Progress handle (a fresh one when nil)
//
// Returns:
//   - jobs.Result: Outcome with the number of created pairings
//   - error: Configuration errors before any pairing is persisted, roster or
//     store errors otherwise; pairings persisted before the error remain
func (o *Orchestrator) RunAutomatic(ctx context.Context, req AutomaticRequest, p *jobs.Progress) (jobs.Result, error) {
	p = progressOrNew(p, KindAutomatic, o.logger, o.metrics)
	o.logger.Info("automatic pairing started",
		"course_id", req.CourseID,
		"assignment_id", req.AssignmentID,
		"rounds", req.Rounds,
		"exclude_defaulters", req.ExcludeDefaulters,
		"excluded", len(req.ExcludedUsernames),
	)

	run := runInfo{kind: KindAutomatic, courseID: req.CourseID, assignmentID: req.AssignmentID, rounds: req.Rounds, creator: req.Creator}

	if err := req.Validate(); err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}

	pl, err := o.plan(ctx, req, p, false)
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}
	run.kind = pl.kind

	created, err := o.persist(ctx, pl, req.Creator, req.Notify, p)

	return o.complete(ctx, run, pl, jobs.Result{Message: MsgAutomaticDone, Created: created}, err, p)
}

// RunIntraGroup pairs every member of each group with more than two members
// with every other member of the group, regardless of assignment settings.
func (o *Orchestrator) RunIntraGroup(ctx context.Context, req AutomaticRequest, p *jobs.Progress) (jobs.Result, error) {
	p = progressOrNew(p, KindIntraGroup, o.logger, o.metrics)
	run := runInfo{kind: KindIntraGroup, courseID: req.CourseID, assignmentID: req.AssignmentID, creator: req.Creator}

	if req.CourseID == 0 || req.AssignmentID == 0 {
		err := fmt.Errorf("%w: course and assignment are required", types.ErrInvalidConfig)
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}

	_ = p.Transition(types.RunLoadingRoster)
	if _, err := o.ledger.Settings(ctx, req.CourseID, req.AssignmentID); err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}

	assignment, err := o.roster.Assignment(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, fmt.Errorf("failed to load assignment: %w", err), p)
	}

	pl, err := o.planIntraGroup(ctx, req, assignment, p, o.newResolver(false))
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}

	created, err := o.persist(ctx, pl, req.Creator, req.Notify, p)

	return o.complete(ctx, run, pl, jobs.Result{Message: MsgAutomaticDone, Created: created}, err, p)
}

// plan loads the roster and computes the matches of an automatic run. A dry
// run resolves users without writing to the directory.
func (o *Orchestrator) plan(ctx context.Context, req AutomaticRequest, p *jobs.Progress, dryRun bool) (*plan, error) {
	users := o.newResolver(dryRun)

	_ = p.Transition(types.RunLoadingRoster)
	p.Set(0, msgLoadingRoster)

	settings, err := o.ledger.Settings(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return nil, err
	}

	assignment, err := o.roster.Assignment(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}

	if settings.IntraGroupReview {
		return o.planIntraGroup(ctx, req, assignment, p, users)
	}

	p.Set(8, msgLoadingSubmission)
	pop, err := o.loadPopulation(ctx, req, users)
	if err != nil {
		return nil, err
	}

	graders, recipients := pop.graders(), pop.recipients()
	o.logger.Debug("pools computed", "graders", len(graders), "recipients", len(recipients))
	if req.Rounds >= len(recipients) {
		return nil, fmt.Errorf("%w: %d rounds for %d submitters", types.ErrReviewsExceedStudents, req.Rounds, len(recipients))
	}

	var groups []matching.GroupGraders
	if assignment.HasGroups() && !assignment.IntraGroupPeerReviews {
		if groups, err = o.loadGroups(ctx, assignment, pop, users); err != nil {
			return nil, err
		}
	}
	p.Set(15, msgGenerateMatches)

	study := o.activeStudy(ctx, assignment.ID)

	_ = p.Transition(types.RunComputingMatches)
	rng := o.rngFor(KindAutomatic, req.CourseID, req.AssignmentID)

	pl := &plan{
		kind:       KindAutomatic,
		pairKind:   types.KindStudent,
		assignment: assignment,
		rounds:     req.Rounds,
		users:      pop.users(),
		pop:        pop,
		study:      study,
		attempts:   1,
	}

	if len(groups) > 0 {
		res, err := matching.MatchNonGroupReviewers(groups, recipients, req.Rounds, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to generate non-group matches: %w", err)
		}
		o.metrics.RecordMatchingAttempts(res.Attempts)
		pl.matches, pl.attempts = res.Matches, res.Attempts
	} else {
		matches, err := matching.MatchReviewers(graders, recipients, req.Rounds, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to generate matches: %w", err)
		}
		pl.matches = matches
	}
	p.Set(30, msgCreatingPairs)

	return pl, nil
}

func (o *Orchestrator) planIntraGroup(ctx context.Context, req AutomaticRequest, assignment types.Assignment, p *jobs.Progress, users *userResolver) (*plan, error) {
	o.logger.Info("performing intra-group review pairing", "assignment_id", assignment.ID)
	if !assignment.HasGroups() {
		return nil, fmt.Errorf("%w: assignment %d", types.ErrNotGroupAssignment, assignment.ID)
	}

	students, err := o.roster.Enrollments(ctx, req.CourseID, types.RoleStudent)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}
	if _, err := users.resolve(ctx, students, true); err != nil {
		return nil, fmt.Errorf("failed to resolve students: %w", err)
	}

	groups, err := o.roster.Groups(ctx, assignment.GroupCategoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	slices.SortFunc(groups, func(a, b types.Group) int { return cmp.Compare(a.ID, b.ID) })

	pop := newPopulation()
	memberSets := make([][]types.UserID, 0, len(groups))
	for _, g := range groups {
		members, err := o.groupMembers(ctx, g.ID, users)
		if err != nil {
			return nil, err
		}

		ids := make([]types.UserID, 0, len(members))
		for _, u := range members {
			ids = append(ids, u.ID)
			pop.add(&participant{user: u, groupID: g.ID, canGrade: true, canReceive: true})
		}
		memberSets = append(memberSets, ids)
	}
	p.Set(15, msgGenerateMatches)

	_ = p.Transition(types.RunComputingMatches)
	matches := matching.IntraGroupRoundRobin(memberSets)
	p.Set(30, msgCreatingPairs)

	return &plan{
		kind:       KindIntraGroup,
		pairKind:   types.KindIntraGroup,
		assignment: assignment,
		users:      pop.users(),
		pop:        pop,
		matches:    matches,
		attempts:   1,
	}, nil
}

// persist writes the planned pairs one at a time. Conflicts are skipped;
// any other ledger error stops the run.
func (o *Orchestrator) persist(ctx context.Context, pl *plan, creator types.User, notify bool, p *jobs.Progress) (int, error) {
	_ = p.Transition(types.RunPersistingPairs)

	total := max(matching.CountPairs(pl.matches), 1)
	names := &pseudonymCycle{names: o.names}
	count, created := 0, 0

	for _, m := range pl.matches {
		grader := pl.users[m.Grader]
		o.logger.Debug("creating pairs for grader", "grader_id", grader.ID, "recipients", len(m.Recipients))

		for _, rid := range m.Recipients {
			count++
			recipient := pl.users[rid]

			var pseudonym string
			if pl.study != nil && pl.study.Includes(grader) && pl.study.Includes(recipient) {
				pseudonym = names.take()
			}

			pairing, err := o.ledger.CreatePairing(ctx, ledger.CreateRequest{
				Creator:    creator,
				Grader:     grader,
				Recipient:  recipient,
				Assignment: pl.assignment,
				Kind:       pl.pairKind,
				Study:      pl.study,
				Pseudonym:  pseudonym,
			})
			p.Set(30+count*70/total, "")
			if err != nil {
				if types.IsConflict(err) {
					o.logger.Warn("pair skipped", "grader_id", grader.ID, "recipient_id", rid, "reason", err)
					continue
				}

				return created, fmt.Errorf("failed to create pairing %d -> %d: %w", grader.ID, rid, err)
			}

			created++
			if notify {
				o.notifyPairing(ctx, pairing)
			}
		}
	}

	return created, nil
}

// PreviewRow is one grader of a previewed allocation.
type PreviewRow struct {
	Grader     types.User            `json:"grader"`
	GroupID    int64                 `json:"groupId,omitempty"`
	Submission types.SubmissionState `json:"submission,omitempty"`
	Recipients []types.User          `json:"recipients"`
}

// Preview is a computed allocation that was not persisted.
type Preview struct {
	Kind       string           `json:"kind"`
	Assignment types.Assignment `json:"assignment"`
	Rounds     int              `json:"rounds"`
	Rows       []PreviewRow     `json:"rows"`
	Pairs      int              `json:"pairs"`
	Attempts   int              `json:"attempts"`
	StudyID    string           `json:"studyId,omitempty"`
}

// Preview computes the allocation RunAutomatic would persist for req without
// creating any pairing.
//
// The roster is loaded and matches are computed exactly as in RunAutomatic;
// with WithSeed both produce the same matches. Nothing is written: students
// without a local user record get a temporary ID for the preview only.
//
// Returns:
//   - Preview: One row per grader in matching order
//   - error: The configuration and roster errors RunAutomatic would report
func (o *Orchestrator) Preview(ctx context.Context, req AutomaticRequest) (Preview, error) {
	if err := req.Validate(); err != nil {
		return Preview{}, err
	}

	p := jobs.NewProgress("preview", o.logger, o.metrics)
	pl, err := o.plan(ctx, req, p, true)
	if err != nil {
		p.Fail(err)
		return Preview{}, err
	}
	_ = p.Transition(types.RunDone)

	out := Preview{
		Kind:       pl.kind,
		Assignment: pl.assignment,
		Rounds:     pl.rounds,
		Pairs:      matching.CountPairs(pl.matches),
		Attempts:   pl.attempts,
		Rows:       make([]PreviewRow, 0, len(pl.matches)),
	}
	if pl.study != nil {
		out.StudyID = pl.study.ID
	}

	for _, m := range pl.matches {
		row := PreviewRow{Grader: pl.users[m.Grader]}
		if pt, ok := pl.pop.byID[m.Grader]; ok {
			row.GroupID = pt.groupID
			if pt.submission != nil {
				row.Submission = pt.submission.State
			}
		}
		for _, rid := range m.Recipients {
			row.Recipients = append(row.Recipients, pl.users[rid])
		}
		out.Rows = append(out.Rows, row)
	}

	return out, nil
}
