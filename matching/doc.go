// Package matching provides the review-matching algorithms.
//
// Every function in this package is pure: no I/O, no persistence, no global
// state. Randomness comes from an explicit Source so seeded runs are
// reproducible. The package includes four allocators:
//
//   - MatchReviewers: rotation-window matching, each grader reviews `rounds` distinct recipients
//   - MatchNonGroupReviewers: like MatchReviewers, but never inside the grader's own group
//   - AllocatePopulationToBuckets: partition a population into fixed-size buckets (TA allocation)
//   - IntraGroupRoundRobin: every member of a group reviews every other member
//
// and one helper for repair jobs, RankLeastReviewed, which orders candidate
// recipients by how few reviews they already receive.
//
// # Choosing a matcher
//
// MatchReviewers:
//   - Use for individual assignments
//   - Each grader gets exactly `rounds` recipients, never itself
//   - Review load per recipient differs by at most a small skew
//
// MatchNonGroupReviewers:
//   - Use for group assignments reviewed across groups
//   - Prioritises the least-reviewed recipients and retries until every
//     recipient receives at least one review, bounded by WithMaxAttempts
//
// AllocatePopulationToBuckets:
//   - Use when each bucket (a TA) has a fixed target count
//   - Partition sizes are deterministic, membership depends on the shuffle
package matching
