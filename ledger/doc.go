// Package ledger persists pairings and enforces their invariants.
//
// The Ledger is the only way to create a pairing. Creation checks that the
// assignment is configured, that grader and recipient are different people and
// that no active pairing exists for the same grader, recipient and assignment.
// A pairing owns one Task and one draft Feedback; archiving and deleting
// cascade to both explicitly.
//
// Three stores are provided:
//   - MemoryStore: in-process, used by tests and the CLI preview
//   - KVStore: NATS JetStream KV, uniqueness through atomic key creation
//   - PostgresStore: PostgreSQL through pgx, uniqueness through a partial unique index
//
// Directory implementations resolve course-platform users to local IDs.
package ledger
