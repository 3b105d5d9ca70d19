// Package async provides safe concurrent execution primitives.
//
// SafeGo runs one background task with a timeout and panic recovery. The
// admin API uses it for fire-and-forget dispatches.
//
// WorkerPool runs tasks on a fixed number of workers, each under its own
// timeout. A task that fails or panics is logged and counted. It never stops
// its worker and never affects other tasks.
//
// Map is the bounded fan-out used by the analytics dispatcher, with one task
// per site:
//
//	results := async.Map(ctx, logger, sites, 4, "site analytics", 10*time.Minute,
//		func(ctx context.Context, site payload.Site) (*analytics.RunResult, error) {
//			return job.Run(ctx, site)
//		})
//	for _, r := range results {
//		if r.Err != nil {
//			// this site failed; every other site still ran
//		}
//	}
package async
