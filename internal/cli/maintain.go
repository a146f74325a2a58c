package cli

import (
	"github.com/spf13/cobra"

	"github.com/arloliu/peerpair/maintenance"
)

var (
	flagPairsPerGrader int
	flagMinPairs       int
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Repair pairings after roster or submission changes",
}

var replaceUnsubmittedCmd = &cobra.Command{
	Use:   "replace-unsubmitted",
	Short: "Drop pairings with recipients who did not submit and top graders up",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		svc, _, cleanup, err := setup(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		job, err := svc.SubmitReplaceUnsubmitted(ctx, maintenance.ReplaceRequest{
			CourseID:       flagCourse,
			AssignmentID:   flagAssignment,
			PairsPerGrader: flagPairsPerGrader,
			Notify:         flagNotify,
		})
		if err != nil {
			return fail(ExitRunFailed, err)
		}

		return finishJob(ctx, cmd.OutOrStdout(), job)
	},
}

var fillMissingCmd = &cobra.Command{
	Use:   "fill-missing",
	Short: "Top every student up to a minimum number of pairings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		svc, _, cleanup, err := setup(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		job, err := svc.SubmitFillMissing(ctx, maintenance.FillRequest{
			CourseID:     flagCourse,
			AssignmentID: flagAssignment,
			MinPairs:     flagMinPairs,
			Notify:       flagNotify,
		})
		if err != nil {
			return fail(ExitRunFailed, err)
		}

		return finishJob(ctx, cmd.OutOrStdout(), job)
	},
}

var replaceTaskCmd = &cobra.Command{
	Use:   "replace-task <task-id>",
	Short: "Archive a task and pair its grader with a new recipient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		svc, _, cleanup, err := setup(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		job, err := svc.SubmitReplaceTask(ctx, maintenance.ReplaceTaskRequest{TaskID: args[0], Notify: flagNotify})
		if err != nil {
			return fail(ExitRunFailed, err)
		}

		return finishJob(ctx, cmd.OutOrStdout(), job)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{replaceUnsubmittedCmd, fillMissingCmd} {
		addTargetFlags(cmd)
		cmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON instead of tables")
	}
	replaceUnsubmittedCmd.Flags().IntVar(&flagPairsPerGrader, "pairs", 1, "pairings every submitter should grade")
	fillMissingCmd.Flags().IntVar(&flagMinPairs, "min", 1, "minimum regular pairings per student")

	replaceTaskCmd.Flags().BoolVar(&flagNotify, "notify", false, "notify the grader about the new pairing")
	replaceTaskCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON instead of tables")

	maintainCmd.AddCommand(replaceUnsubmittedCmd)
	maintainCmd.AddCommand(fillMissingCmd)
	maintainCmd.AddCommand(replaceTaskCmd)
}
