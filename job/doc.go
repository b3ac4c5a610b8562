// Package job defines job definitions: a key, an execution policy and an
// enabled flag.
//
// # Policy
//
// A [Policy] names the queue, the priority (1..9, where 9 is dispatched
// first), the attempt budget, the [Backoff] between attempts, the
// per-attempt timeout, an optional cap on simultaneously running runs, an
// optional SLA on start delay and an optional dedupe window.
//
// Every update produces a new version. Runs snapshot the policy when they
// are created, so edits never alter retry arithmetic of runs in flight.
//
// # Registry
//
// [Registry] validates and persists jobs, and serves key lookups from a
// cache that is invalidated on every version bump:
//
//	j, err := registry.Create(ctx, job.New("invoice-export",
//	    job.WithMaxAttempts(3),
//	    job.WithExponentialBackoff(10, 0),
//	    job.WithTimeout(60),
//	))
//
// Jobs are never deleted. [Registry.Disable] stops the trigger engine and
// on-demand submissions from creating new runs.
package job
