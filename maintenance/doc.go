// Package maintenance repairs existing pairings.
//
// Pairings are created when an assignment is due, but the course keeps
// changing afterwards: submissions get withdrawn, students are added late and
// due dates move. A Maintainer fixes the pairings of one assignment without
// recomputing the whole allocation:
//
//   - ReplaceUnsubmittedPairs drops pairings to students without a submission
//     and tops every submitter back up
//   - FillMissingPairs adds regular reviews to students below a minimum
//   - ReplaceTask swaps a single grader task for a new recipient
//   - SyncSchedules moves scheduled automatic runs along with due dates
package maintenance
