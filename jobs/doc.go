// Package jobs runs orchestration work in the background.
//
// A Runner accepts a Spec and returns a Job immediately. Jobs move from
// pending to in_progress when a concurrency slot is free and end as finished
// or error with a Result. Each job owns a Progress that reports a monotonic
// percentage, a message and the run state, and fans updates out to
// subscribers without blocking the job.
//
// Jobs carrying an AdmissionKey are admitted through an Admission table: a
// second automatic run for the same course, assignment and teacher is
// rejected with types.ErrAutomaticPairingExists while the first is pending or
// running. MemoryAdmission serves a single process, KVAdmission shares the
// table over NATS JetStream KV.
//
// A Scheduler submits runs at a later time and lets callers cancel or move
// them until they fire.
package jobs
