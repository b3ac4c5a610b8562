// Package store defines the aggregate persistence interface. Each subsystem
// (calendar, job, run, trigger, event, cluster) defines its own store
// interface. The composite Store composes them all. Backends: Postgres,
// SQLite and Memory.
package store

import (
	"context"

	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

// Store is the aggregate persistence interface. A single backend
// implements all of it, so that a run transition and its outbox events
// and worker slot changes commit together.
type Store interface {
	calendar.Store
	job.Store
	run.Store
	trigger.Store
	event.Store
	cluster.Store
	cluster.Leadership

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
