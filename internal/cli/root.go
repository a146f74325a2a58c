package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

// Exit codes returned by Run.
const (
	ExitSuccess      = 0
	ExitRunFailed    = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitRuntimeError = 4
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "peerpair",
	Short: "Peer-review pairing allocator",
	Long: "Peerpair matches graders with submissions for peer review, allocates TA " +
		"reviews and keeps pairings consistent as rosters change.",
	SilenceUsage: true,
}

// Run executes the root command and returns an exit code.
func Run() int {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to peerpair.yaml (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "override logging.format (text, json)")

	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(pairingsCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		if exitCode == ExitSuccess {
			return ExitUsageError
		}
	}

	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print peerpair version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "peerpair version %s\n", version)
	},
}
