// Package types provides core type definitions and interfaces for the peerpair library.
//
// This package contains shared types that are used across multiple packages in
// peerpair. Keeping them in a separate package avoids import cycles between the
// root peerpair package and its implementation packages (matching, ledger,
// allocation, maintenance, jobs).
//
// Key types:
//   - User, Submission, Group: roster data normalized from the course platform
//   - Pairing, Task, Feedback: the pairing record and the two records it owns
//   - AssignmentSettings: per-assignment pairing configuration
//   - RunState: orchestration run progression
//   - RosterProvider, Notifier, StudyCatalog, Archive: collaborator interfaces
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
