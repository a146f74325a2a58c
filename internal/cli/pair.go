package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/peerpair"
	"github.com/arloliu/peerpair/allocation"
	"github.com/arloliu/peerpair/jobs"
)

// Flag variables for the pair and preview commands.
var (
	flagCourse            int64
	flagAssignment        int64
	flagTeacher           string
	flagNotify            bool
	flagRounds            int
	flagExclude           string
	flagExcludeDefaulters bool
	flagIntraGroup        bool
	flagCSV               string
	flagGraderType        string
	flagAllowMissing      bool
	flagTA                string
	flagRubric            int64
	flagDeadlineDays      int
	flagSchedule          bool
	flagJSON              bool
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Create pairings for an assignment",
	Long: "Runs an automatic allocation by default. --csv pairs graders with the " +
		"recipients listed in a CSV file, --ta allocates students to TAs and " +
		"--schedule registers the automatic run for the assignment due date instead.",
	Example: `  peerpair pair --course 5 --assignment 77 --rounds 2 --teacher prof
  peerpair pair --course 5 --assignment 77 --csv pairs.csv --grader-type TA
  peerpair pair --course 5 --assignment 77 --ta alice:10,bob:12`,
	RunE: runPair,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the matches an automatic run would create",
	RunE:  runPreview,
}

func init() {
	for _, cmd := range []*cobra.Command{pairCmd, previewCmd} {
		addTargetFlags(cmd)
		cmd.Flags().IntVar(&flagRounds, "rounds", 1, "reviews per submission")
		cmd.Flags().StringVar(&flagExclude, "exclude", "", "comma-separated usernames to leave out")
		cmd.Flags().BoolVar(&flagExcludeDefaulters, "exclude-defaulters", false, "leave out students without a submission")
		cmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON instead of tables")
	}

	pairCmd.Flags().BoolVar(&flagIntraGroup, "intra-group", false, "round robin within each group regardless of settings")
	pairCmd.Flags().StringVar(&flagCSV, "csv", "", "CSV file of grader,recipient... rows")
	pairCmd.Flags().StringVar(&flagGraderType, "grader-type", string(peerpair.KindStudent), "grader type for --csv (student or TA)")
	pairCmd.Flags().BoolVar(&flagAllowMissing, "allow-missing", false, "with --csv, pair recipients without a submission")
	pairCmd.Flags().StringVar(&flagTA, "ta", "", "TA allocation as username:count pairs, e.g. alice:10,bob:12")
	pairCmd.Flags().Int64Var(&flagRubric, "rubric", 0, "store assignment settings with this rubric before pairing")
	pairCmd.Flags().IntVar(&flagDeadlineDays, "deadline-days", 0, "with --rubric, feedback is due this many days after the assignment")
	pairCmd.Flags().BoolVar(&flagSchedule, "schedule", false, "schedule the automatic run at the due date plus schedule.offset")
}

// addTargetFlags registers the course, assignment and teacher flags.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&flagCourse, "course", 0, "course ID (required)")
	cmd.Flags().Int64Var(&flagAssignment, "assignment", 0, "assignment ID (required)")
	cmd.Flags().StringVar(&flagTeacher, "teacher", "", "username of the teacher starting the run (first teacher when empty)")
	cmd.Flags().BoolVar(&flagNotify, "notify", false, "notify graders about new pairings")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("assignment")
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runPair(cmd *cobra.Command, _ []string) error {
	modes := 0
	for _, set := range []bool{flagCSV != "", flagTA != "", flagIntraGroup, flagSchedule} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return fail(ExitUsageError, errors.New("--csv, --ta, --intra-group and --schedule are mutually exclusive"))
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	svc, b, cleanup, err := setup(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	teacher, err := resolveTeacher(ctx, b, flagCourse, flagTeacher)
	if err != nil {
		return fail(ExitUsageError, err)
	}

	if flagRubric != 0 {
		err := svc.PutSettings(ctx, peerpair.AssignmentSettings{
			CourseID:             flagCourse,
			AssignmentID:         flagAssignment,
			RubricID:             flagRubric,
			DeadlineFormat:       peerpair.DeadlinePlatform,
			FeedbackDeadlineDays: flagDeadlineDays,
			IntraGroupReview:     flagIntraGroup,
		})
		if err != nil {
			return fail(ExitRuntimeError, err)
		}
	}

	out := cmd.OutOrStdout()

	var job *jobs.Job
	switch {
	case flagCSV != "":
		job, err = submitCSV(ctx, svc, teacher)
	case flagTA != "":
		job, err = submitTA(ctx, svc, b, teacher)
	case flagSchedule:
		run, err := svc.ScheduleAutomatic(ctx, automaticRequest(teacher))
		if err != nil {
			return fail(ExitRunFailed, err)
		}
		if flagJSON {
			return writeJSON(out, run)
		}
		fmt.Fprintln(out, okStyle.Render("scheduled"), run.ID, "at", run.RunAt.Format("2006-01-02 15:04 MST"))
		return nil
	case flagIntraGroup:
		job, err = svc.SubmitIntraGroup(ctx, automaticRequest(teacher))
	default:
		job, err = svc.SubmitAutomatic(ctx, automaticRequest(teacher))
	}
	if err != nil {
		return fail(ExitRunFailed, err)
	}

	return finishJob(ctx, out, job)
}

// finishJob follows job to completion and prints its result.
func finishJob(ctx context.Context, w io.Writer, job *jobs.Job) error {
	progress := w
	if flagJSON {
		progress = io.Discard
	}

	info, err := followJob(ctx, progress, job)
	if err != nil {
		return fail(ExitRuntimeError, err)
	}

	if flagJSON {
		if err := writeJSON(w, info); err != nil {
			return err
		}
	} else {
		renderResult(w, info)
	}

	if info.Status == jobs.StatusError {
		exitCode = ExitRunFailed
	}

	return nil
}

// followJob prints progress updates until job finishes.
func followJob(ctx context.Context, w io.Writer, job *jobs.Job) (jobs.Info, error) {
	updates, stop := job.Progress().Subscribe()
	defer stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			renderProgress(w, snap)
		case <-job.Done():
			for {
				select {
				case snap, ok := <-updates:
					if !ok {
						return job.Info(), nil
					}
					renderProgress(w, snap)
				default:
					return job.Info(), nil
				}
			}
		case <-ctx.Done():
			return jobs.Info{}, ctx.Err()
		}
	}
}

func automaticRequest(teacher peerpair.User) allocation.AutomaticRequest {
	return allocation.AutomaticRequest{
		CourseID:          flagCourse,
		AssignmentID:      flagAssignment,
		Rounds:            flagRounds,
		Creator:           teacher,
		ExcludeDefaulters: flagExcludeDefaulters,
		ExcludedUsernames: allocation.SplitUsernames(flagExclude),
		Notify:            flagNotify,
	}
}

func submitCSV(ctx context.Context, svc *peerpair.Service, teacher peerpair.User) (*jobs.Job, error) {
	f, err := os.Open(flagCSV)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := allocation.ParseCSV(f)
	if err != nil {
		return nil, err
	}

	return svc.SubmitCSV(ctx, allocation.CSVRequest{
		CourseID:     flagCourse,
		AssignmentID: flagAssignment,
		Records:      records,
		AllowMissing: flagAllowMissing,
		GraderType:   peerpair.PairingKind(flagGraderType),
		Creator:      teacher,
		Notify:       flagNotify,
	})
}

func submitTA(ctx context.Context, svc *peerpair.Service, b *backend, teacher peerpair.User) (*jobs.Job, error) {
	counts, err := parseTACounts(flagTA)
	if err != nil {
		return nil, fail(ExitUsageError, err)
	}

	tas, err := b.roster.Enrollments(ctx, flagCourse, peerpair.RoleTA)
	if err != nil {
		return nil, err
	}

	wanted := make([]peerpair.User, 0, len(counts))
	for _, c := range counts {
		u, ok := findUser(tas, c.username)
		if !ok {
			return nil, fail(ExitUsageError, fmt.Errorf("%q is not a TA of course %d", c.username, flagCourse))
		}
		wanted = append(wanted, u)
	}

	local, err := b.directory.EnsureUsers(ctx, wanted, true)
	if err != nil {
		return nil, err
	}

	allocs := make([]allocation.TAAllocation, 0, len(counts))
	for i, c := range counts {
		allocs = append(allocs, allocation.TAAllocation{TAID: local[i].ID, StudentCount: c.count})
	}

	return svc.SubmitTAAllocation(ctx, allocation.TARequest{
		CourseID:     flagCourse,
		AssignmentID: flagAssignment,
		Allocations:  allocs,
		Creator:      teacher,
		Notify:       flagNotify,
	})
}

type taCount struct {
	username string
	count    int
}

// parseTACounts parses "alice:10,bob:12".
func parseTACounts(s string) ([]taCount, error) {
	var out []taCount
	for _, part := range allocation.SplitUsernames(s) {
		name, count, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid TA allocation %q, want username:count", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid student count in %q", part)
		}
		out = append(out, taCount{username: name, count: n})
	}
	if len(out) == 0 {
		return nil, errors.New("no TA allocations given")
	}

	return out, nil
}

func findUser(users []peerpair.User, username string) (peerpair.User, bool) {
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			return u, true
		}
	}

	return peerpair.User{}, false
}

// resolveTeacher finds the teacher by username, or the first course teacher,
// and registers them in the local directory.
func resolveTeacher(ctx context.Context, b *backend, courseID int64, username string) (peerpair.User, error) {
	teachers, err := b.roster.Enrollments(ctx, courseID, peerpair.RoleTeacher)
	if err != nil {
		return peerpair.User{}, err
	}
	if len(teachers) == 0 {
		return peerpair.User{}, fmt.Errorf("course %d has no teacher", courseID)
	}

	teacher := teachers[0]
	if username != "" {
		var ok bool
		if teacher, ok = findUser(teachers, username); !ok {
			return peerpair.User{}, fmt.Errorf("%q is not a teacher of course %d", username, courseID)
		}
	}

	local, err := b.directory.EnsureUsers(ctx, []peerpair.User{teacher}, true)
	if err != nil {
		return peerpair.User{}, err
	}

	return local[0], nil
}

func runPreview(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	svc, b, cleanup, err := setup(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	teacher, err := resolveTeacher(ctx, b, flagCourse, flagTeacher)
	if err != nil {
		return fail(ExitUsageError, err)
	}

	preview, err := svc.Preview(ctx, automaticRequest(teacher))
	if err != nil {
		return fail(ExitRunFailed, err)
	}

	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), preview)
	}
	renderPreview(cmd.OutOrStdout(), preview)

	return nil
}
