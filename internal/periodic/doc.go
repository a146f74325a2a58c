// Package periodic runs a function at a fixed interval in the background.
//
// A Loop runs its function once on Start, then on every tick until Stop.
// Ticks that arrive while a previous call is still running are dropped by
// the underlying time.Ticker, so calls never overlap.
//
// Example:
//
//	loop := periodic.New("schedule-sync", 15*time.Minute, func(ctx context.Context) error {
//	    _, err := maintainer.SyncSchedules(ctx, scheduler)
//	    return err
//	}, periodic.WithLogger(logger))
//
//	if err := loop.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Stop()
package periodic
