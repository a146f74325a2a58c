package cli

import (
	"github.com/spf13/cobra"

	"github.com/arloliu/peerpair"
	"github.com/arloliu/peerpair/ledger"
)

var (
	flagKind            string
	flagIncludeArchived bool
)

var pairingsCmd = &cobra.Command{
	Use:   "pairings",
	Short: "List, archive and restore pairings",
}

var pairingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pairings of an assignment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		svc, _, cleanup, err := setup(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		records, err := svc.Pairings(ctx, ledger.Filter{
			CourseID:        flagCourse,
			AssignmentID:    flagAssignment,
			Kind:            peerpair.PairingKind(flagKind),
			IncludeArchived: flagIncludeArchived,
		})
		if err != nil {
			return fail(ExitRuntimeError, err)
		}

		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), records)
		}
		renderPairings(cmd.OutOrStdout(), records)

		return nil
	},
}

func setArchivedCmd(use, short string, archived bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <pairing-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			svc, _, cleanup, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := svc.SetArchived(ctx, args[0], archived)
			if err != nil {
				return fail(ExitRunFailed, err)
			}

			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func init() {
	pairingsListCmd.Flags().Int64Var(&flagCourse, "course", 0, "course ID")
	pairingsListCmd.Flags().Int64Var(&flagAssignment, "assignment", 0, "assignment ID")
	pairingsListCmd.Flags().StringVar(&flagKind, "kind", "", "only pairings of this kind (student, TA, igr)")
	pairingsListCmd.Flags().BoolVar(&flagIncludeArchived, "archived", false, "include archived pairings")
	pairingsListCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON instead of a table")

	pairingsCmd.AddCommand(pairingsListCmd)
	pairingsCmd.AddCommand(setArchivedCmd("archive", "Archive a pairing and its task", true))
	pairingsCmd.AddCommand(setArchivedCmd("restore", "Restore an archived pairing", false))
}
