package types

// RunState represents the progression of one orchestration run.
//
// States follow a defined progression:
//
//	RunInitializing → RunLoadingRoster → RunComputingMatches → RunPersistingPairs → RunNotifying → RunDone
//
// RunFailed is reachable from any non-terminal state. RunDone and RunFailed are terminal.
type RunState int

const (
	// RunInitializing is the initial state before any roster call.
	RunInitializing RunState = iota

	// RunLoadingRoster indicates submissions, groups and enrollments are being fetched.
	RunLoadingRoster

	// RunComputingMatches indicates the matching engine is running.
	RunComputingMatches

	// RunPersistingPairs indicates pairings are being written one at a time.
	RunPersistingPairs

	// RunNotifying indicates completion notifications are being queued.
	RunNotifying

	// RunDone indicates the run completed.
	RunDone

	// RunFailed indicates the run aborted. Pairs persisted before the failure remain.
	RunFailed
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	switch s {
	case RunInitializing:
		return "INITIALIZING"
	case RunLoadingRoster:
		return "LOADING_ROSTER"
	case RunComputingMatches:
		return "COMPUTING_MATCHES"
	case RunPersistingPairs:
		return "PERSISTING_PAIRS"
	case RunNotifying:
		return "NOTIFYING"
	case RunDone:
		return "DONE"
	case RunFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s RunState) IsTerminal() bool {
	return s == RunDone || s == RunFailed
}

// CanTransition reports whether moving from s to next is valid.
//
// Forward moves may skip steps (a run without notifications goes straight
// from persisting to done); backward moves are rejected.
func (s RunState) CanTransition(next RunState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == RunFailed {
		return true
	}

	return next > s && next <= RunDone
}
