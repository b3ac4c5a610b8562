// Package dispatcher matches pending runs to workers.
//
// Each queue has its own priority heap. Pop order is priority descending
// (9 is the most urgent), then earliest ScheduledAt, then earliest
// creation, so equal-priority runs are served FIFO. There is no ordering
// across queues.
//
// A run goes to a worker only if the worker is online, lists the run's
// queue and job key in its capabilities, belongs to the run's tenant and
// has a free slot, the job's concurrency limit is not reached, the run's
// NotBefore has passed and the queue's rate limit allows it. The claim is
// a single version-checked ledger write.
package dispatcher
