// Package peerpair allocates peer reviewers for course assignments.
//
// A Service pairs graders with recipients for an assignment, persists every
// pairing together with its review task and draft feedback, and repairs
// pairings when submissions change after the fact. Allocation runs are
// background jobs with observable progress.
//
// # Quick Start
//
// Pair every student with two peers from a roster file:
//
//	import (
//	    "github.com/arloliu/peerpair"
//	    "github.com/arloliu/peerpair/allocation"
//	    "github.com/arloliu/peerpair/ledger"
//	    "github.com/arloliu/peerpair/roster"
//	)
//
//	src, err := roster.LoadFile("roster.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := peerpair.DefaultConfig()
//	svc, err := peerpair.NewService(&cfg, src, ledger.NewMemoryDirectory(), ledger.NewMemoryStore())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop(context.Background())
//
//	_ = svc.PutSettings(ctx, peerpair.AssignmentSettings{CourseID: 5, AssignmentID: 77, RubricID: 1})
//	job, err := svc.SubmitAutomatic(ctx, allocation.AutomaticRequest{
//	    CourseID:     5,
//	    AssignmentID: 77,
//	    Rounds:       2,
//	    Creator:      teacher,
//	})
//	res, err := job.Wait(ctx)
//
// # Workflows
//
//   - Automatic: every submitter reviews Rounds peers; group assignments never
//     pair members of the same group; intra-group assignments pair every group
//     member with every other member
//   - CSV: explicit grader to recipients lists
//   - TA allocation: fixed student counts per TA, rebalanced on a second run
//   - Maintenance: replace pairs of withdrawn submissions, fill missing pairs,
//     replace a single task
//
// # Run States
//
// Every run reports progress through a state machine:
//
//	INITIALIZING → LOADING_ROSTER → COMPUTING_MATCHES → PERSISTING_PAIRS → NOTIFYING → DONE
//
// Any state may move to FAILED. Pairs persisted before a failure remain.
//
// # Backends
//
// The ledger stores records in memory, in a NATS JetStream KV bucket or in
// Postgres. Admission control of automatic runs is in memory or in NATS KV.
// Notifications are published on NATS and allocation snapshots can be
// archived in MinIO. cmd/peerpair wires these from a Config file.
package peerpair
