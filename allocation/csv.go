package allocation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/matching"
	"github.com/arloliu/peerpair/types"
)

// CSVRecord is one grader and the usernames it reviews.
type CSVRecord struct {
	Grader     string   `json:"grader"`
	Recipients []string `json:"recipients"`
}

// CSVRequest starts an explicit pairing run.
type CSVRequest struct {
	CourseID     int64       `json:"courseId"`
	AssignmentID int64       `json:"assignmentId"`
	Records      []CSVRecord `json:"records"`

	// AllowMissing pairs recipients even without an eligible submission.
	AllowMissing bool `json:"allowMissing"`

	// GraderType is types.KindStudent (default) or types.KindTA.
	GraderType types.PairingKind `json:"graderType"`

	Creator types.User `json:"creator"`
	Notify  bool       `json:"notify"`
}

// ParseCSV reads pairing records.
//
// Each row names a grader username followed by one or more recipient
// usernames. Blank cells are ignored, rows for the same grader are merged and
// a first row starting with "grader" is treated as a header.
//
// Example input:
//
//	grader,recipient1,recipient2
//	alice,bob,carol
//	bob,carol
//
// Returns:
//   - []CSVRecord: Records in first-seen grader order
//   - error: types.ErrInvalidAllocation for malformed input
func ParseCSV(r io.Reader) ([]CSVRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []CSVRecord
	index := make(map[string]int)
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidAllocation, err)
		}

		cells := make([]string, 0, len(row))
		for _, c := range row {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) == 0 {
			continue
		}
		if line == 1 && strings.EqualFold(cells[0], "grader") {
			continue
		}
		if len(cells) < 2 {
			return nil, fmt.Errorf("%w: line %d has no recipients", types.ErrInvalidAllocation, line)
		}

		grader := cells[0]
		i, ok := index[grader]
		if !ok {
			i = len(records)
			index[grader] = i
			records = append(records, CSVRecord{Grader: grader})
		}
		for _, rcp := range cells[1:] {
			if !slices.Contains(records[i].Recipients, rcp) {
				records[i].Recipients = append(records[i].Recipients, rcp)
			}
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no pairs found", types.ErrInvalidAllocation)
	}

	return records, nil
}

// Validate checks the request shape before any roster call.
func (r CSVRequest) Validate() error {
	if r.CourseID == 0 || r.AssignmentID == 0 {
		return fmt.Errorf("%w: course and assignment are required", types.ErrInvalidConfig)
	}
	if r.GraderType != "" && r.GraderType != types.KindStudent && r.GraderType != types.KindTA {
		return fmt.Errorf("%w: grader type must be %s or %s", types.ErrInvalidAllocation, types.KindStudent, types.KindTA)
	}
	if len(r.Records) == 0 {
		return fmt.Errorf("%w: no pairs given", types.ErrInvalidAllocation)
	}
	for _, rec := range r.Records {
		if rec.Grader == "" || len(rec.Recipients) == 0 {
			return fmt.Errorf("%w: every pair needs a grader and recipients", types.ErrInvalidAllocation)
		}
	}

	return nil
}

// RunCSV creates the explicitly listed pairings.
//
// Every username must belong to the course: recipients (and student graders)
// among the students, TA graders among the TAs. Missing local users are
// created in bulk. Recipients without an eligible submission are skipped
// unless AllowMissing is set; skipped usernames are listed in the success
// message rather than failing the run.
//
// Parameters:
//   - ctx: Context for roster and ledger calls
//   - req: Records and options
//   - p: Progress handle (a fresh one when nil)
//
// Returns:
//   - jobs.Result: Success result, possibly listing skipped usernames
//   - error: types.ErrInvalidAllocation, types.ErrUsersNotInCourse,
//     types.ErrCourseNotConfigured, roster or store errors
func (o *Orchestrator) RunCSV(ctx context.Context, req CSVRequest, p *jobs.Progress) (jobs.Result, error) {
	p = progressOrNew(p, KindCSV, o.logger, o.metrics)
	run := runInfo{kind: KindCSV, courseID: req.CourseID, assignmentID: req.AssignmentID, creator: req.Creator}

	if err := req.Validate(); err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}
	if req.GraderType == "" {
		req.GraderType = types.KindStudent
	}

	_ = p.Transition(types.RunLoadingRoster)
	p.Set(5, msgLoadingRoster)

	if _, err := o.ledger.Settings(ctx, req.CourseID, req.AssignmentID); err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}

	users, err := o.resolveCSVUsers(ctx, req)
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, err, p)
	}
	p.Set(20, "")

	assignment, err := o.roster.Assignment(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, fmt.Errorf("failed to load assignment: %w", err), p)
	}
	subs, err := o.roster.Submissions(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return o.complete(ctx, run, nil, jobs.Result{}, fmt.Errorf("failed to load submissions: %w", err), p)
	}
	eligible := make(map[int64]bool, len(subs))
	for _, s := range subs {
		eligible[s.UserExternalID] = s.Eligible()
	}
	p.Set(30, msgCreatingPairs)

	_ = p.Transition(types.RunPersistingPairs)

	pl := &plan{kind: KindCSV, pairKind: req.GraderType, assignment: assignment, users: make(map[types.UserID]types.User)}
	res := jobs.Result{}
	for i, rec := range req.Records {
		grader := users[rec.Grader]
		pl.users[grader.ID] = grader
		match := matching.Match{Grader: grader.ID}

		for _, name := range rec.Recipients {
			recipient := users[name]
			if !eligible[recipient.ExternalID] && !req.AllowMissing {
				res.Skipped = append(res.Skipped, name)
				o.metrics.RecordPairingConflict("missing_submission")

				continue
			}

			pairing, err := o.ledger.CreatePairing(ctx, ledger.CreateRequest{
				Creator:    req.Creator,
				Grader:     grader,
				Recipient:  recipient,
				Assignment: assignment,
				Kind:       req.GraderType,
			})
			if err != nil {
				if types.IsConflict(err) {
					o.logger.Warn("pair skipped", "grader", rec.Grader, "recipient", name, "reason", err)
					continue
				}

				return o.complete(ctx, run, pl, res, fmt.Errorf("failed to create pairing %s -> %s: %w", rec.Grader, name, err), p)
			}

			res.Created++
			match.Recipients = append(match.Recipients, recipient.ID)
			pl.users[recipient.ID] = recipient
			if req.Notify {
				o.notifyPairing(ctx, pairing)
			}
		}

		pl.matches = append(pl.matches, match)
		p.Set(30+(i+1)*70/len(req.Records), "")
	}

	res.Message = MsgCSVDone
	if len(res.Skipped) > 0 {
		res.Message = MsgCSVPartial + strings.Join(res.Skipped, ",")
	}

	return o.complete(ctx, run, pl, res, nil, p)
}

// resolveCSVUsers validates every username against the course roster and
// returns the local users keyed by username.
func (o *Orchestrator) resolveCSVUsers(ctx context.Context, req CSVRequest) (map[string]types.User, error) {
	students, err := o.roster.Enrollments(ctx, req.CourseID, types.RoleStudent)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}

	var tas []types.User
	if req.GraderType == types.KindTA {
		if tas, err = o.roster.Enrollments(ctx, req.CourseID, types.RoleTA); err != nil {
			return nil, fmt.Errorf("failed to load TAs: %w", err)
		}
	}

	studentNames := usernameIndex(students)
	taNames := usernameIndex(tas)

	var missing []string
	needed := make(map[string]types.User)
	check := func(name string, pool map[string]types.User) {
		if u, ok := pool[name]; ok {
			needed[name] = u
			return
		}
		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}

	for _, rec := range req.Records {
		if req.GraderType == types.KindTA {
			check(rec.Grader, taNames)
		} else {
			check(rec.Grader, studentNames)
		}
		for _, name := range rec.Recipients {
			check(name, studentNames)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: check if you have set the right grader type, missing ids: %s",
			types.ErrUsersNotInCourse, strings.Join(missing, " "))
	}

	platform := make([]types.User, 0, len(needed))
	for _, u := range needed {
		platform = append(platform, u)
	}

	local, err := o.directory.EnsureUsers(ctx, platform, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create users: %w", err)
	}

	return usernameIndex(local), nil
}

func usernameIndex(users []types.User) map[string]types.User {
	out := make(map[string]types.User, len(users))
	for _, u := range users {
		out[u.Username] = u
	}

	return out
}
