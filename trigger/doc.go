// Package trigger turns schedules and on-demand submissions into pending
// runs.
//
// A [Schedule] pairs a cron expression with a job key and, optionally, a
// business calendar. On every tick the leader fires each due schedule
// once. An occurrence on a non-business day is either rolled to the same
// wall-clock time on the next business day ([RollForward], the default)
// or dropped ([RollSkip]). Each occurrence carries a deterministic dedupe
// key ([FiringKey]) derived from the schedule ID and the nominal due
// instant, so overlapping scans never fire it twice. Occurrences missed
// while no leader was running collapse into a single firing.
//
// [Engine.Submit] creates runs on demand. When an active run already holds
// the caller's dedupe key, the configured cadence.DedupePolicy decides
// whether that run is returned as an idempotent replay or the submission
// is rejected with a conflict.
package trigger
