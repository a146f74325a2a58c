// Package allocation runs the pairing workflows of an assignment.
//
// An Orchestrator loads course data from a types.RosterProvider, computes
// matches with package matching and persists every pair through a
// ledger.Ledger. Four workflows are available:
//
//   - RunAutomatic: random peer review with a fixed number of rounds, with
//     group-aware and intra-group variants
//   - RunCSV: explicit pairs parsed from a CSV upload
//   - RunTAAllocation: students distributed across TAs, rebalanced on rerun
//   - Preview: the allocation RunAutomatic would create, without persisting
//
// Each workflow reports through a *jobs.Progress and returns a jobs.Result,
// so it can be passed directly to a jobs.Runner:
//
//	job, err := runner.Submit(ctx, jobs.Spec{
//	    Kind: allocation.KindAutomatic,
//	    Key:  &key,
//	    Run: func(ctx context.Context, p *jobs.Progress) (jobs.Result, error) {
//	        return orch.RunAutomatic(ctx, req, p)
//	    },
//	})
package allocation
