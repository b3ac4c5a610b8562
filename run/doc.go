// Package run is the run ledger: one record per execution attempt of a
// job.
//
// A run moves pending → running → succeeded, or ends failed, dead or
// missed. A failed attempt below MaxAttempts is followed by a new pending
// run with Attempt+1, linked through PreviousID and sharing RootID with
// the first attempt of the chain.
//
// State changes are pure functions in transition.go. The Ledger writes
// them through Store.Apply, which is compare-and-swap on Version and
// atomically carries the side effects of a transition: a worker slot
// claimed or released, a retry successor inserted, and events appended to
// the outbox.
package run
