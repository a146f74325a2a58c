package peerpair

import "github.com/arloliu/peerpair/types"

// Re-export types from the types package.
//
// Internal packages depend on types without depending on the root package,
// while users get a convenient peerpair.User, peerpair.Pairing, etc.
type (
	UserID             = types.UserID
	User               = types.User
	Submission         = types.Submission
	Group              = types.Group
	Assignment         = types.Assignment
	Pairing            = types.Pairing
	PairingKind        = types.PairingKind
	PairingRecord      = types.PairingRecord
	Task               = types.Task
	Feedback           = types.Feedback
	AssignmentSettings = types.AssignmentSettings
	Study              = types.Study
	RunState           = types.RunState
	RunSummary         = types.RunSummary
)

// Re-export interfaces from the types package for convenience.
type (
	RosterProvider   = types.RosterProvider
	Directory        = types.Directory
	StudyCatalog     = types.StudyCatalog
	Notifier         = types.Notifier
	Archive          = types.Archive
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
)

// Re-export pairing kinds.
const (
	KindStudent    = types.KindStudent
	KindTA         = types.KindTA
	KindIntraGroup = types.KindIntraGroup
)

// Enrollment roles.
const (
	RoleStudent = types.RoleStudent
	RoleTA      = types.RoleTA
	RoleTeacher = types.RoleTeacher
)

// Task deadline formats.
const (
	DeadlinePlatform = types.DeadlinePlatform
	DeadlineCustom   = types.DeadlineCustom
)
