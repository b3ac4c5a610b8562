// Package retry applies worker reports to the run ledger.
//
// A failure below the job's MaxAttempts ends the attempt Failed and, in
// the same ledger write, inserts the next attempt as a new pending run
// whose NotBefore is the backoff delay away. The final attempt ends Dead
// and emits job.run.dead. Delays come from the policy snapshot on the run,
// so editing a job never changes the arithmetic of a chain in flight.
package retry
