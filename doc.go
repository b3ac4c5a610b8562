// Package cadence is a distributed job scheduler. It turns declared job
// definitions and business calendars into timed runs, dispatches those runs
// to a pool of remote workers and drives every run through a
// retry/backoff/SLA lifecycle to a terminal outcome.
//
// Cadence is a library first. Wire a store and call engine.Build, or run
// the cadenced binary which exposes the management API over HTTP.
//
// # Quick Start
//
//	sched, err := cadence.New(
//	    cadence.WithStore(memory.New()),
//	    cadence.WithDedupePolicy(cadence.DedupeReject),
//	)
//	eng, err := engine.Build(sched)
//	_ = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, calendar, trigger, run, cluster, event) defines
// its own store interface; a single backend implements all of them. Run
// state transitions are pure functions that return the next record plus the
// events it emits. Writers persist them with a compare-and-swap on the
// record version, which is the only mutual exclusion in the system.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package cadence
