// Package analytics aggregates per-site page-view analytics into the
// trending pages and totals stored on each site record.
//
// # Pipeline
//
// For every eligible site the Job fetches the most viewed paths from the
// report source, classifies each path, resolves the pages it can, counts
// posts and entries, and patches the site record:
//
//	rows, _ := reports.TopPages(ctx, site.GAPropertyID)
//	snap, _ := aggregator.Build(ctx, site, rows)
//	patch := analytics.BuildPatch(snap)
//	persisted, _ := persister.Persist(ctx, site.ID, patch)
//
// BuildPatch never carries a zero total or an empty trending list, so a run
// that observes nothing leaves stored values untouched.
//
// # Dispatch
//
// The Dispatcher lists eligible sites over GraphQL and runs one Job per site
// on a bounded worker pool. A failed site is reported in the DispatchSummary
// and does not affect the others. An optional Locker keeps replicas from
// dispatching at the same time.
package analytics
